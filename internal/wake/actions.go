package wake

import (
	"fmt"
	"sync"
)

// Well-known wake actions.
const (
	ActionReconcileAllow = "reconcile-allow"
	ActionReconcileDelay = "reconcile-delay"
	ActionRefresh        = "refresh"
)

// ActionFunc handles a fired wake for one rule.
type ActionFunc func(ruleID string) error

// Table maps action names to handlers. Dispatch on an unregistered action is
// an error so a typo in a scheduled payload surfaces instead of vanishing.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

// NewTable creates an empty action table.
func NewTable() *Table {
	return &Table{handlers: make(map[string]ActionFunc)}
}

// Register binds a handler to an action name, replacing any previous binding.
func (t *Table) Register(action string, fn ActionFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[action] = fn
}

// Dispatch invokes the handler registered for the payload's action.
func (t *Table) Dispatch(p Payload) error {
	t.mu.RLock()
	fn, ok := t.handlers[p.Action]
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for action %q", p.Action)
	}
	return fn(p.RuleID)
}
