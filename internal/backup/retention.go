package backup

import (
	"sort"
	"time"
)

// Retention is how many snapshots each age tier keeps. Within a tier the
// newest snapshots survive. Snapshots older than a year are always expired.
type Retention struct {
	Hourly  int // younger than a day
	Daily   int // younger than a week
	Weekly  int // younger than 30 days
	Monthly int // younger than a year
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() Retention {
	return Retention{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Expired returns the snapshots the policy no longer keeps as of now.
func (r Retention) Expired(snaps []Snapshot, now time.Time) []Snapshot {
	sorted := append([]Snapshot(nil), snaps...)
	sortNewestFirst(sorted)

	limits := [...]int{r.Hourly, r.Daily, r.Weekly, r.Monthly}
	var kept [len(limits)]int
	var expired []Snapshot
	for _, s := range sorted {
		tier := tierOf(now.Sub(s.Taken))
		if tier < 0 || kept[tier] >= limits[tier] {
			expired = append(expired, s)
			continue
		}
		kept[tier]++
	}
	return expired
}

func tierOf(age time.Duration) int {
	const day = 24 * time.Hour
	switch {
	case age < day:
		return 0
	case age < 7*day:
		return 1
	case age < 30*day:
		return 2
	case age < 365*day:
		return 3
	default:
		return -1
	}
}

func sortNewestFirst(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Taken.After(snaps[j].Taken)
	})
}
