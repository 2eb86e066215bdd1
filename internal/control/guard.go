package control

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a mutation is requested for a rule that already
// has one in flight. Requests are rejected, not queued: a queued toggle would
// execute against a state the user was not looking at when they asked.
var ErrBusy = errors.New("another operation is in flight for this rule")

// guard is the per-rule mutation lock. Operations on different rules proceed
// in parallel; a second operation on the same rule is rejected immediately.
type guard struct {
	mu   sync.Mutex
	busy map[string]bool
}

func newGuard() *guard {
	return &guard{busy: make(map[string]bool)}
}

// acquire marks the rule busy. Returns false if it already was.
func (g *guard) acquire(ruleID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy[ruleID] {
		return false
	}
	g.busy[ruleID] = true
	return true
}

// release clears the busy mark. Safe to call for a rule that is not busy.
func (g *guard) release(ruleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, ruleID)
}
