package streamer

import "fmt"

// Set owns the full list of streamers configured on a device and implements
// check_streamers: evaluating which are triggered, honoring with_other
// coupling, and draining manual marks exactly once per pass.
type Set struct {
	streamers []*Streamer
}

// NewSet creates an empty streamer set.
func NewSet() *Set {
	return &Set{}
}

// Register appends s to the set and assigns it the index of its position.
func (set *Set) Register(s *Streamer) int {
	idx := len(set.streamers)
	s.SetIndex(idx)
	set.streamers = append(set.streamers, s)
	return idx
}

// RegisterBounded is Register subject to a device-model streamer count
// limit, the cap a device's loader enforces when building its streamer set
// from configuration.
func (set *Set) RegisterBounded(s *Streamer, max int) (int, error) {
	if len(set.streamers) >= max {
		return 0, fmt.Errorf("streamer set already holds %d streamers, at its configured limit of %d", len(set.streamers), max)
	}
	return set.Register(s), nil
}

// Get returns the streamer at index i, or nil if out of range.
func (set *Set) Get(i int) *Streamer {
	if i < 0 || i >= len(set.streamers) {
		return nil
	}
	return set.streamers[i]
}

// All returns every registered streamer in index order.
func (set *Set) All() []*Streamer {
	return set.streamers
}

// Mark records a manual trigger for streamer i, consumed by the next
// CheckStreamers call.
func (set *Set) Mark(i int) {
	if s := set.Get(i); s != nil {
		s.manualMark = true
	}
}

// CheckStreamers evaluates every streamer exactly once, strictly in index
// order per §4.4's invariant, draining any pending manual marks as it goes.
// A streamer with WithOther set also fires when the referenced streamer's
// own (non-coupled) trigger fired during this same pass — a single forward
// resolution, not a transitive chain, per the documented with_other design
// decision. It returns the indices of every streamer that fired, in index
// order.
func (set *Set) CheckStreamers() []int {
	native := make([]bool, len(set.streamers))
	for i, s := range set.streamers {
		native[i] = s.Triggered(s.manualMark)
		s.manualMark = false
	}

	var fired []int
	for i, s := range set.streamers {
		triggered := native[i]
		if !triggered && s.WithOther != nil {
			if k := *s.WithOther; k >= 0 && k < len(native) && native[k] {
				triggered = true
			}
		}
		if triggered {
			fired = append(fired, i)
		}
	}
	return fired
}
