// Package watermark rejects events that arrive older than the newest event
// already admitted.
//
// The watermark is a single high-water creation timestamp shared by every
// namespace and object. A late event for one object arriving after a newer
// event for an unrelated object is rejected as well.
package watermark

import (
	"sync"
	"time"

	"github.com/alekitto/sentry-kubernetes/internal/types"
)

// State holds the creation time of the most recently admitted event.
type State struct {
	mu   sync.RWMutex
	last *time.Time
}

// NewState returns an empty State.
func NewState() *State {
	return &State{}
}

// Last returns the current watermark, or false when nothing was admitted yet.
func (s *State) Last() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return time.Time{}, false
	}
	return *s.last, true
}

// Seed sets the watermark unconditionally.
func (s *State) Seed(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &t
}

// advance atomically compares ts against the watermark and moves it forward.
// Returns false, leaving the watermark untouched, when ts is strictly older.
func (s *State) advance(ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.After(ts) {
		return false
	}
	s.last = &ts
	return true
}

// Guard admits events in non-decreasing creation-time order.
type Guard struct {
	state *State
}

// NewGuard creates a Guard over state.
func NewGuard(state *State) *Guard {
	return &Guard{state: state}
}

// State returns the guarded watermark.
func (g *Guard) State() *State {
	return g.state
}

// Admit reports whether ev may proceed. Events without a creation time are
// always admitted; equal timestamps are admitted.
func (g *Guard) Admit(ev *types.CanonicalEvent) bool {
	if ev.CreationTimestamp == nil {
		return true
	}
	return g.state.advance(*ev.CreationTimestamp)
}
