// Package barstore tracks the bar that is still forming and the last two
// finalized bars. A bar is finalized exactly once: when an update arrives for
// a different period than the one in progress.
package barstore

import (
	"sync"

	"gapsignal/internal/model"
)

// Result describes what an Ingest call did.
type Result struct {
	// Finalized is the bar that closed on this update, nil if none did.
	Finalized *model.Bar
	// Previous is the bar finalized immediately before Finalized. It is nil
	// for the very first finalized bar.
	Previous *model.Bar
}

// Closed reports whether the update finalized a bar.
func (r Result) Closed() bool {
	return r.Finalized != nil
}

// Store holds the in-progress bar and a two-bar window of finalized bars.
// Ingest is serialized by a mutex so that concurrent callers still finalize
// each period once.
type Store struct {
	mu            sync.Mutex
	inProgress    *model.Bar
	lastFinal     *model.Bar
	previousFinal *model.Bar
	finalized     uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Ingest applies one snapshot. Snapshots for the in-progress period replace
// it (latest wins); a snapshot for any other period finalizes the in-progress
// bar and starts a new one.
func (s *Store) Ingest(update model.Bar) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inProgress == nil || update.PeriodStart == s.inProgress.PeriodStart {
		s.inProgress = clone(update)
		return Result{}
	}

	closed := s.inProgress
	res := Result{Finalized: clone(*closed)}
	if s.lastFinal != nil {
		res.Previous = clone(*s.lastFinal)
	}

	s.previousFinal = s.lastFinal
	s.lastFinal = closed
	s.inProgress = clone(update)
	s.finalized++

	return res
}

// InProgress returns the bar currently forming.
func (s *Store) InProgress() (model.Bar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deref(s.inProgress)
}

// LastFinal returns the most recently finalized bar.
func (s *Store) LastFinal() (model.Bar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deref(s.lastFinal)
}

// PreviousFinal returns the bar finalized just before LastFinal.
func (s *Store) PreviousFinal() (model.Bar, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deref(s.previousFinal)
}

// Finalized returns how many bars have been finalized so far.
func (s *Store) Finalized() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

func clone(b model.Bar) *model.Bar {
	return &b
}

func deref(b *model.Bar) (model.Bar, bool) {
	if b == nil {
		return model.Bar{}, false
	}
	return *b, true
}
