// Package rule holds the managed-rule model and the pure logic that derives
// blocking state and toggle decisions from it. Nothing in this package touches
// the network or the store.
package rule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleMode mirrors the remote scheduling modes. ALWAYS doubles as the
// manual override state: the rule blocks continuously while enabled.
type ScheduleMode string

const (
	ModeAlways  ScheduleMode = "ALWAYS"
	ModeDaily   ScheduleMode = "DAILY"
	ModeWeekly  ScheduleMode = "WEEKLY"
	ModeOneTime ScheduleMode = "ONE_TIME"
	ModeCustom  ScheduleMode = "CUSTOM"
)

// TemporaryAllow is a short-lived pause of an otherwise-blocking rule.
// PriorEnabled captures the enabled flag at the instant the allow started so
// reconciliation restores exactly that value.
type TemporaryAllow struct {
	Expiry       time.Time `json:"expiry"`
	PriorEnabled bool      `json:"prior_enabled"`
}

// TemporaryDelay postpones a not-yet-blocking rule's window start.
type TemporaryDelay struct {
	Expiry             time.Time `json:"expiry"`
	PriorScheduleStart string    `json:"prior_schedule_start"`
}

// ManagedRule is the local record for one remotely-tracked downtime rule.
// The four exception/override memory fields (OriginalSchedule*, TemporaryAllow,
// TemporaryDelay) are local-only: the remote has no concept of them and they
// are never overwritten by a refresh.
type ManagedRule struct {
	RuleID        string       `json:"rule_id"`
	Name          string       `json:"name"`
	Action        string       `json:"action"`
	PriorityIndex int          `json:"priority_index"`
	Enabled       bool         `json:"enabled"`
	ScheduleMode  ScheduleMode `json:"schedule_mode"`
	ScheduleStart string       `json:"schedule_start,omitempty"` // "HH:MM"
	ScheduleEnd   string       `json:"schedule_end,omitempty"`   // "HH:MM"

	// Snapshot of the recurring window taken when the rule was switched into
	// override mode. Nil start means no recurring schedule existed to restore.
	OriginalScheduleMode  ScheduleMode `json:"original_schedule_mode,omitempty"`
	OriginalScheduleStart *string      `json:"original_schedule_start,omitempty"`
	OriginalScheduleEnd   *string      `json:"original_schedule_end,omitempty"`

	TemporaryAllow *TemporaryAllow `json:"temporary_allow,omitempty"`
	TemporaryDelay *TemporaryDelay `json:"temporary_delay,omitempty"`

	Person     string    `json:"person,omitempty"`
	Selected   bool      `json:"selected"`
	Stale      bool      `json:"stale,omitempty"`
	LastSynced time.Time `json:"last_synced,omitempty"`
}

// Clone returns a deep copy. Rollback restores the exact prior snapshot, so
// the copy must not share pointers with the original.
func (r *ManagedRule) Clone() *ManagedRule {
	c := *r
	if r.OriginalScheduleStart != nil {
		v := *r.OriginalScheduleStart
		c.OriginalScheduleStart = &v
	}
	if r.OriginalScheduleEnd != nil {
		v := *r.OriginalScheduleEnd
		c.OriginalScheduleEnd = &v
	}
	if r.TemporaryAllow != nil {
		v := *r.TemporaryAllow
		c.TemporaryAllow = &v
	}
	if r.TemporaryDelay != nil {
		v := *r.TemporaryDelay
		c.TemporaryDelay = &v
	}
	return &c
}

// HasOriginalSchedule reports whether an override snapshot exists.
func (r *ManagedRule) HasOriginalSchedule() bool {
	return r.OriginalScheduleStart != nil && r.OriginalScheduleEnd != nil
}

// ActiveAllow reports whether a temporary allow is active at now.
// Expiry is compared strictly: equal-or-past means due for reconciliation.
func (r *ManagedRule) ActiveAllow(now time.Time) bool {
	return r.TemporaryAllow != nil && r.TemporaryAllow.Expiry.After(now)
}

// ActiveDelay reports whether a temporary delay is active at now.
func (r *ManagedRule) ActiveDelay(now time.Time) bool {
	return r.TemporaryDelay != nil && r.TemporaryDelay.Expiry.After(now)
}

// HasActiveException reports whether either exception clock is running.
func (r *ManagedRule) HasActiveException(now time.Time) bool {
	return r.ActiveAllow(now) || r.ActiveDelay(now)
}

// ExceptionDue reports whether an exception exists whose expiry has passed.
func (r *ManagedRule) ExceptionDue(now time.Time) bool {
	if r.TemporaryAllow != nil && !r.TemporaryAllow.Expiry.After(now) {
		return true
	}
	if r.TemporaryDelay != nil && !r.TemporaryDelay.Expiry.After(now) {
		return true
	}
	return false
}

// blockActions holds the remote action synonyms that normalize to "block".
var blockActions = map[string]bool{
	"BLOCK":  true,
	"DROP":   true,
	"REJECT": true,
	"DENY":   true,
}

// IsBlockAction reports whether the remote action string is block-equivalent.
func IsBlockAction(action string) bool {
	return blockActions[strings.ToUpper(strings.TrimSpace(action))]
}

// ParseClock parses an "HH:MM" clock-of-day string into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM", wrapping past 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// minutesOfDay returns now's clock position in minutes since midnight.
func minutesOfDay(now time.Time) int {
	return now.Hour()*60 + now.Minute()
}

// windowContains evaluates the recurring window against now.
// ok is false when start or end is missing or malformed; an incomplete
// schedule is treated as "never blocks", not as an error.
func windowContains(start, end string, now time.Time) (inside, ok bool) {
	if start == "" || end == "" {
		return false, false
	}
	s, err := ParseClock(start)
	if err != nil {
		return false, false
	}
	e, err := ParseClock(end)
	if err != nil {
		return false, false
	}
	cur := minutesOfDay(now)
	if s > e {
		// Overnight window, e.g. 23:00-07:00
		return cur >= s || cur < e, true
	}
	return cur >= s && cur < e, true
}
