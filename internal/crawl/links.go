package crawl

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotPending is returned when completing a link that is not pending.
var ErrNotPending = errors.New("link is not pending")

// LinkState is the set a link currently belongs to.
type LinkState int

const (
	StateUnknown LinkState = iota
	StatePending
	StateProcessed
	StateBroken
)

func (s LinkState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessed:
		return "processed"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// LinkSet partitions every link seen during a crawl into pending, processed and
// broken. A link is in at most one set, and once processed or broken it stays
// there for the rest of the run. LinkSet is safe for concurrent use.
type LinkSet struct {
	mu    sync.Mutex
	state map[string]LinkState

	pending   int
	processed int
	broken    int
}

// NewLinkSet creates an empty LinkSet.
func NewLinkSet() *LinkSet {
	return &LinkSet{state: make(map[string]LinkState)}
}

// AddPending adds link to the pending set. Links already present in any set are
// ignored and false is returned.
func (s *LinkSet) AddPending(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.state[link]; seen {
		return false
	}
	s.state[link] = StatePending
	s.pending++
	return true
}

// MarkProcessed moves link from pending to processed.
// It returns ErrNotPending, leaving the sets unchanged, if link is not pending.
func (s *LinkSet) MarkProcessed(link string) error {
	return s.complete(link, StateProcessed)
}

// MarkBroken moves link from pending to broken.
// It returns ErrNotPending, leaving the sets unchanged, if link is not pending.
func (s *LinkSet) MarkBroken(link string) error {
	return s.complete(link, StateBroken)
}

func (s *LinkSet) complete(link string, to LinkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state[link] != StatePending {
		return ErrNotPending
	}
	s.state[link] = to
	s.pending--
	if to == StateProcessed {
		s.processed++
	} else {
		s.broken++
	}
	return nil
}

// State reports which set link is in.
func (s *LinkSet) State(link string) LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[link]
}

// Pending returns a sorted snapshot of the pending set.
func (s *LinkSet) Pending() []string {
	return s.snapshot(StatePending)
}

// Processed returns a sorted snapshot of the processed set.
func (s *LinkSet) Processed() []string {
	return s.snapshot(StateProcessed)
}

// Broken returns a sorted snapshot of the broken set.
func (s *LinkSet) Broken() []string {
	return s.snapshot(StateBroken)
}

// Counts returns the size of each set.
func (s *LinkSet) Counts() (pending, processed, broken int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.processed, s.broken
}

func (s *LinkSet) snapshot(want LinkState) []string {
	s.mu.Lock()
	out := []string{}
	for link, st := range s.state {
		if st == want {
			out = append(out, link)
		}
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
