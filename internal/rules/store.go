package rules

import "sync/atomic"

// Store holds the process-wide rule set snapshot. Refreshing configuration
// swaps the whole pointer; readers that already took a snapshot keep a
// consistent set for the duration of their request. There is no in-place
// mutation and no locking.
type Store struct {
	current atomic.Pointer[RuleSet]
}

// NewStore creates a store holding the given initial rule set.
func NewStore(rs *RuleSet) *Store {
	s := &Store{}
	s.current.Store(rs)
	return s
}

// Current returns the active rule set snapshot, or nil if none has been
// loaded yet.
func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

// Swap atomically replaces the active rule set.
func (s *Store) Swap(rs *RuleSet) {
	s.current.Store(rs)
}
