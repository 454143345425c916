// Package experience holds the per-policy containers for rollout data
// collected from environment simulations.
package experience

// Transition is one recorded environment step for a single agent.
type Transition struct {
	State     []float64          `json:"state"`
	Action    int                `json:"action"`
	Reward    float64            `json:"reward"`
	NextState []float64          `json:"next_state"`
	Meta      map[string]float64 `json:"meta,omitempty"`
}

// Set is an append-only, ordered collection of transitions. The zero
// value is an empty set ready for use.
type Set struct {
	Transitions []Transition `json:"transitions"`
}

// Append adds a single transition to the end of the set.
func (s *Set) Append(t Transition) {
	s.Transitions = append(s.Transitions, t)
}

// Extend appends every transition from other in arrival order. A nil
// other is a no-op.
func (s *Set) Extend(other *Set) {
	if other == nil {
		return
	}
	s.Transitions = append(s.Transitions, other.Transitions...)
}

// Size reports the number of transitions in the set.
func (s *Set) Size() int {
	return len(s.Transitions)
}

// ByPolicy maps a policy name to the experience collected under it.
type ByPolicy map[string]*Set

// Get returns the set for the named policy, initializing an empty one
// on first access.
func (b ByPolicy) Get(policy string) *Set {
	set, ok := b[policy]
	if !ok {
		set = &Set{}
		b[policy] = set
	}
	return set
}

// Merge extends every set in b with the matching set from other,
// creating sets for policies b has not seen yet.
func (b ByPolicy) Merge(other ByPolicy) {
	for policy, set := range other {
		b.Get(policy).Extend(set)
	}
}

// TotalSize sums the sizes of all contained sets.
func (b ByPolicy) TotalSize() int {
	var total int
	for _, set := range b {
		total += set.Size()
	}
	return total
}
