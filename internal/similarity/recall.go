package similarity

// Band maps a minimum quality score to a result count.
type Band struct {
	MinQuality float64
	Count      int
}

// RecallSizer decides how many ranked results to hand to a downstream
// consumer. Bands must be sorted by ascending MinQuality.
type RecallSizer struct {
	Bands []Band

	// MinCount is the floor and the count used below every band.
	MinCount int

	// SteepDropRatio caps the count at the first index past 1 whose score
	// falls below ratio*top.
	SteepDropRatio float64

	// ClusterWindow and ClusterMin raise the count to the size of the group
	// of scores within ClusterWindow of the top, once it has ClusterMin members.
	ClusterWindow float64
	ClusterMin    int
}

// DefaultRecallSizer returns the standard quality bands and adjustments.
func DefaultRecallSizer() RecallSizer {
	return RecallSizer{
		Bands: []Band{
			{0.30, 2},
			{0.45, 3},
			{0.55, 4},
			{0.65, 5},
			{0.72, 6},
			{0.80, 7},
			{0.87, 8},
			{0.93, 9},
			{0.97, 10},
		},
		MinCount:       2,
		SteepDropRatio: 0.55,
		ClusterWindow:  0.05,
		ClusterMin:     4,
	}
}

// RecallCount sizes scores with DefaultRecallSizer.
func RecallCount(scores []float64) int {
	return DefaultRecallSizer().Count(scores)
}

const clusterEpsilon = 1e-9

// Count returns how many of the descending scores to return. The steep-drop
// cap is applied before the dense-cluster raise, so a cluster can lift the
// count back above the cap.
func (s RecallSizer) Count(scores []float64) int {
	n := len(scores)
	if n < s.MinCount {
		return n
	}

	top := scores[0]
	quality := (top + mean(scores[:min(5, n)]) + mean(scores)) / 3

	count := s.MinCount
	for _, b := range s.Bands {
		if quality >= b.MinQuality {
			count = b.Count
		}
	}

	for i := 2; i < n; i++ {
		if scores[i] < s.SteepDropRatio*top {
			count = min(count, max(s.MinCount, i))
			break
		}
	}

	cluster := 0
	for _, sc := range scores {
		if top-sc <= s.ClusterWindow+clusterEpsilon {
			cluster++
		}
	}
	if cluster >= s.ClusterMin {
		count = max(count, cluster)
	}

	return max(s.MinCount, min(count, n))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
