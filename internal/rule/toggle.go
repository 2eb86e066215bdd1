package rule

import (
	"errors"
	"fmt"
	"time"
)

// Intent is the caller's desired traffic outcome for a rule.
type Intent string

const (
	IntentAllowTraffic Intent = "ALLOW_TRAFFIC"
	IntentBlockTraffic Intent = "BLOCK_TRAFFIC"
)

// ErrInconsistentState is returned when a toggle request does not match any
// reachable row of the decision table. This is a defect, not a user error:
// the table is exhaustive over valid composite states.
var ErrInconsistentState = errors.New("rule state does not match any toggle decision")

// Decide computes the rule snapshot that realizes the desired intent.
//
// The decision is expressed only in terms of ScheduleMode, the original
// schedule snapshot, and Enabled. The temporary-allow/delay fields are a
// separate layer owned by the override scheduler; Decide never reads or
// writes them, and callers must clear an active exception before calling.
func Decide(intent Intent, r *ManagedRule, now time.Time) (*ManagedRule, error) {
	switch intent {
	case IntentAllowTraffic:
		return decideAllow(r, now)
	case IntentBlockTraffic:
		return decideBlock(r, now)
	default:
		return nil, fmt.Errorf("%w: unknown intent %q", ErrInconsistentState, intent)
	}
}

// decideAllow handles ALLOW_TRAFFIC: the rule must currently evaluate as
// blocking, and the mutation removes whichever layer is causing the block.
func decideAllow(r *ManagedRule, now time.Time) (*ManagedRule, error) {
	if !IsBlocking(r, now) {
		return nil, fmt.Errorf("%w: ALLOW_TRAFFIC on rule %s which is not blocking", ErrInconsistentState, r.RuleID)
	}

	next := r.Clone()

	if r.ScheduleMode == ModeAlways {
		if r.HasOriginalSchedule() {
			// Restore the pre-override schedule.
			restoreOriginal(next)
			// If restoring lands now back inside the window, the schedule
			// would immediately re-block; pause as well.
			if inside, ok := windowContains(next.ScheduleStart, next.ScheduleEnd, now); ok && inside {
				next.Enabled = false
			}
			return next, nil
		}
		// Override with nothing to restore: pause, schedule fields untouched.
		next.Enabled = false
		return next, nil
	}

	// Blocking via the recurring window: pause.
	next.Enabled = false
	return next, nil
}

// decideBlock handles BLOCK_TRAFFIC: the rule must currently evaluate as not
// blocking. The table is exhaustive over (paused, window position, original
// snapshot); anything else errors.
func decideBlock(r *ManagedRule, now time.Time) (*ManagedRule, error) {
	if IsBlocking(r, now) {
		return nil, fmt.Errorf("%w: BLOCK_TRAFFIC on rule %s which is already blocking", ErrInconsistentState, r.RuleID)
	}
	if !IsBlockAction(r.Action) {
		// An allow-action rule can never block; no mutation of the layers
		// this engine owns can change that.
		return nil, fmt.Errorf("%w: BLOCK_TRAFFIC on allow-action rule %s", ErrInconsistentState, r.RuleID)
	}

	next := r.Clone()

	if !r.Enabled {
		// Paused. Where the rule lands depends on which window, if any, it
		// would wake up inside of.
		if r.ScheduleMode == ModeAlways && r.HasOriginalSchedule() {
			if inside, ok := windowContains(*r.OriginalScheduleStart, *r.OriginalScheduleEnd, now); ok && inside {
				// Inside the original window: restore it and unpause; the
				// schedule takes over blocking.
				restoreOriginal(next)
				next.Enabled = true
				return next, nil
			}
			// Outside the original window: stay overridden, just unpause.
			next.Enabled = true
			return next, nil
		}

		if inside, ok := windowContains(r.ScheduleStart, r.ScheduleEnd, now); ok {
			if inside {
				// Unpausing is enough; the window is already blocking.
				next.Enabled = true
				return next, nil
			}
			// Outside the window: force override. The rule was merely paused,
			// not overridden, so its schedule fields are not snapshotted.
			next.ScheduleMode = ModeAlways
			next.Enabled = true
			return next, nil
		}

		// No usable window at all: force override.
		next.ScheduleMode = ModeAlways
		next.Enabled = true
		return next, nil
	}

	// Enabled but not blocking: outside the recurring window, or the schedule
	// is incomplete.
	if _, ok := windowContains(r.ScheduleStart, r.ScheduleEnd, now); ok {
		// Snapshot the schedule so a later ALLOW_TRAFFIC can restore it.
		start, end := r.ScheduleStart, r.ScheduleEnd
		next.OriginalScheduleMode = r.ScheduleMode
		next.OriginalScheduleStart = &start
		next.OriginalScheduleEnd = &end
		next.ScheduleMode = ModeAlways
		return next, nil
	}

	if r.ScheduleMode == ModeAlways {
		// Enabled, block action, mode ALWAYS would already be blocking;
		// reaching here means the composite state is corrupt.
		return nil, fmt.Errorf("%w: BLOCK_TRAFFIC on enabled ALWAYS rule %s evaluated as not blocking", ErrInconsistentState, r.RuleID)
	}

	// No schedule to preserve: force override.
	next.ScheduleMode = ModeAlways
	return next, nil
}

// restoreOriginal puts the snapshotted schedule back and clears the snapshot.
func restoreOriginal(r *ManagedRule) {
	mode := r.OriginalScheduleMode
	if mode == "" || mode == ModeAlways {
		mode = ModeDaily
	}
	r.ScheduleMode = mode
	r.ScheduleStart = *r.OriginalScheduleStart
	r.ScheduleEnd = *r.OriginalScheduleEnd
	r.OriginalScheduleMode = ""
	r.OriginalScheduleStart = nil
	r.OriginalScheduleEnd = nil
}
