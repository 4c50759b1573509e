package types

// Lifecycle is the state of a memory entry within its lineage.
// It replaces the isLatest/isForgotten flag pair so that an entry can never
// be both forgotten and latest.
type Lifecycle string

// Lifecycle constants
const (
	// LifecycleActive marks the latest version of a lineage.
	LifecycleActive Lifecycle = "active"

	// LifecycleSuperseded marks a version that a newer entry updates.
	LifecycleSuperseded Lifecycle = "superseded"

	// LifecycleForgotten marks an entry deleted by its owner.
	LifecycleForgotten Lifecycle = "forgotten"
)

// ValidLifecycles contains all valid lifecycle values.
var ValidLifecycles = []Lifecycle{
	LifecycleActive,
	LifecycleSuperseded,
	LifecycleForgotten,
}

// IsValid reports whether l is a known lifecycle value.
func (l Lifecycle) IsValid() bool {
	for _, v := range ValidLifecycles {
		if l == v {
			return true
		}
	}
	return false
}

// IsValidLifecycleTransition validates lifecycle transitions.
//
// Valid transitions:
//
//	active     -> superseded | forgotten
//	superseded -> forgotten
//	forgotten  -> (terminal)
//
// A superseded entry never becomes active again: supersession is only undone
// by adding a newer version.
func IsValidLifecycleTransition(from, to Lifecycle) bool {
	switch from {
	case LifecycleActive:
		return to == LifecycleSuperseded || to == LifecycleForgotten
	case LifecycleSuperseded:
		return to == LifecycleForgotten
	default:
		return false
	}
}
