package rule

import (
	"fmt"
	"time"
)

// Evaluate derives the blocking state of a rule at the given instant.
// It is a pure function: rule attributes + now in, blocking flag + a short
// human summary out. It never touches the network and must be re-run on every
// tick, since "now" moves independently of any rule change.
//
// Precedence: paused beats everything, then the action polarity, then the
// override mode, then the recurring window.
func Evaluate(r *ManagedRule, now time.Time) (bool, string) {
	if !r.Enabled {
		return false, "Paused"
	}
	if !IsBlockAction(r.Action) {
		return false, "Allow rule, never blocks"
	}
	if r.ScheduleMode == ModeAlways {
		return true, "Blocking (always on)"
	}

	inside, ok := windowContains(r.ScheduleStart, r.ScheduleEnd, now)
	if !ok {
		// Incomplete schedule is "never blocks", not an error.
		return false, "No schedule window"
	}
	if inside {
		return true, fmt.Sprintf("Blocking until %s", r.ScheduleEnd)
	}
	return false, fmt.Sprintf("Allowed until %s", r.ScheduleStart)
}

// IsBlocking is Evaluate without the summary.
func IsBlocking(r *ManagedRule, now time.Time) bool {
	blocking, _ := Evaluate(r, now)
	return blocking
}
