package control

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"larkspur.is/curfew/internal/notify"
	"larkspur.is/curfew/internal/rule"
	"larkspur.is/curfew/internal/wake"
)

// AllowFor pauses a currently-blocking rule for the given duration. Calling
// it again while an allow is active extends the exception: the new expiry is
// measured from whichever is later, now or the current expiry, so remaining
// time is added to rather than replaced.
func (c *Controller) AllowFor(ruleID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("allow duration must be positive")
	}
	if !c.guard.acquire(ruleID) {
		return fmt.Errorf("%w: rule %s", ErrBusy, ruleID)
	}
	defer c.guard.release(ruleID)

	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return err
	}
	now := c.clock.Now()

	if r.ActiveDelay(now) {
		return fmt.Errorf("rule %s has an active delay; cancel it first", ruleID)
	}

	if r.TemporaryAllow != nil {
		base := r.TemporaryAllow.Expiry
		if base.Before(now) {
			base = now
		}
		next := r.Clone()
		next.TemporaryAllow.Expiry = base.Add(d)
		if err := c.repo.Save(next); err != nil {
			return err
		}
		c.scheduleWake(wake.ActionReconcileAllow, ruleID, next.TemporaryAllow.Expiry)
		c.logger.Info("allow extended", "rule_id", ruleID, "until", next.TemporaryAllow.Expiry)
		return nil
	}

	if !rule.IsBlocking(r, now) {
		return fmt.Errorf("rule %s is not blocking; nothing to allow", ruleID)
	}

	next := r.Clone()
	next.TemporaryAllow = &rule.TemporaryAllow{
		Expiry:       now.Add(d),
		PriorEnabled: r.Enabled,
	}
	next.Enabled = false

	if err := c.push(r, next, now); err != nil {
		return err
	}

	c.scheduleWake(wake.ActionReconcileAllow, ruleID, next.TemporaryAllow.Expiry)
	c.metrics.ExceptionsStarted.WithLabelValues("allow").Inc()
	c.logger.Audit("allow", ruleID, map[string]any{"until": next.TemporaryAllow.Expiry})
	if c.notifier != nil {
		c.notifier.SendSimple(
			fmt.Sprintf("%s allowed", r.Name),
			fmt.Sprintf("Traffic allowed until %s", next.TemporaryAllow.Expiry.Format(time.Kitchen)),
			notify.LevelInfo)
	}
	return nil
}

// DelayFor postpones the start of a not-yet-blocking rule's window. The window
// start is moved to the expiry's clock position; reconciliation moves it back.
func (c *Controller) DelayFor(ruleID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("delay duration must be positive")
	}
	if !c.guard.acquire(ruleID) {
		return fmt.Errorf("%w: rule %s", ErrBusy, ruleID)
	}
	defer c.guard.release(ruleID)

	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return err
	}
	now := c.clock.Now()

	if r.ActiveAllow(now) {
		return fmt.Errorf("rule %s has an active allow; cancel it first", ruleID)
	}
	if rule.IsBlocking(r, now) {
		return fmt.Errorf("rule %s is already blocking; use allow instead", ruleID)
	}
	if r.ScheduleMode == rule.ModeAlways || r.ScheduleStart == "" || r.ScheduleEnd == "" {
		return fmt.Errorf("rule %s has no schedule window to delay", ruleID)
	}

	base := now
	if r.ActiveDelay(now) {
		base = r.TemporaryDelay.Expiry
	}
	expiry := base.Add(d)
	newStart := rule.FormatClock(expiry.Hour()*60 + expiry.Minute())

	if err := checkDelayedStart(r, newStart); err != nil {
		return fmt.Errorf("rule %s: %w", ruleID, err)
	}

	next := r.Clone()
	if next.TemporaryDelay == nil {
		next.TemporaryDelay = &rule.TemporaryDelay{PriorScheduleStart: r.ScheduleStart}
	}
	next.TemporaryDelay.Expiry = expiry
	next.ScheduleStart = newStart

	if err := c.push(r, next, now); err != nil {
		return err
	}

	c.scheduleWake(wake.ActionReconcileDelay, ruleID, expiry)
	c.metrics.ExceptionsStarted.WithLabelValues("delay").Inc()
	c.logger.Audit("delay", ruleID, map[string]any{"start": newStart, "until": expiry})
	return nil
}

// checkDelayedStart rejects a delayed start that falls outside the original
// blocking window. Measured past the end, the shifted start would invert the
// window and block for most of the day instead of not at all.
func checkDelayedStart(r *rule.ManagedRule, newStart string) error {
	origStart := r.ScheduleStart
	if r.TemporaryDelay != nil {
		origStart = r.TemporaryDelay.PriorScheduleStart
	}
	s, err := rule.ParseClock(origStart)
	if err != nil {
		return fmt.Errorf("schedule start %q: %w", origStart, err)
	}
	e, err := rule.ParseClock(r.ScheduleEnd)
	if err != nil {
		return fmt.Errorf("schedule end %q: %w", r.ScheduleEnd, err)
	}
	n, err := rule.ParseClock(newStart)
	if err != nil {
		return err
	}
	winLen := (e - s + 1440) % 1440
	offset := (n - s + 1440) % 1440
	if offset >= winLen {
		return fmt.Errorf("delayed start %s falls outside the %s-%s window; cancel tonight's block with allow instead",
			newStart, origStart, r.ScheduleEnd)
	}
	return nil
}

// CancelException reconciles an exception immediately instead of waiting for
// its expiry. Cancelling when none is active is a no-op.
func (c *Controller) CancelException(ruleID string) error {
	if !c.guard.acquire(ruleID) {
		return fmt.Errorf("%w: rule %s", ErrBusy, ruleID)
	}
	defer c.guard.release(ruleID)

	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return err
	}
	if r.TemporaryAllow == nil && r.TemporaryDelay == nil {
		return nil
	}
	return c.reconcileLocked(r, c.clock.Now())
}

// ReconcileRule restores a rule whose exception has expired. It is the wake
// handler and the sweep worker; calling it with no due exception is a no-op,
// so a wake that fires after a manual cancel does no harm.
func (c *Controller) ReconcileRule(ruleID string) error {
	if !c.guard.acquire(ruleID) {
		// A toggle is mid-flight and will clear the exception itself,
		// or the next sweep retries.
		c.logger.Debug("reconcile skipped, rule busy", "rule_id", ruleID)
		return nil
	}
	defer c.guard.release(ruleID)

	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	if !r.ExceptionDue(now) {
		return nil
	}
	return c.reconcileLocked(r, now)
}

// reconcileLocked removes whichever exception is set and restores the state
// it recorded. On remote failure the exception fields stay in place so the
// next sweep retries; on success r is updated to the reconciled record.
func (c *Controller) reconcileLocked(r *rule.ManagedRule, now time.Time) error {
	var kind string
	switch {
	case r.TemporaryAllow != nil:
		kind = "allow"
	case r.TemporaryDelay != nil:
		kind = "delay"
	default:
		return nil
	}
	next := clearException(r)

	if err := c.push(r, next, now); err != nil {
		c.metrics.Reconciliations.WithLabelValues(kind, "error").Inc()
		c.logger.Warn("reconciliation failed, will retry",
			"rule_id", r.RuleID, "kind", kind, "error", err)
		return err
	}

	if c.wakes != nil {
		c.wakes.Cancel(wakeID(kind, r.RuleID))
	}
	c.metrics.Reconciliations.WithLabelValues(kind, "ok").Inc()
	c.logger.Info("exception reconciled", "rule_id", r.RuleID, "kind", kind)
	if c.notifier != nil {
		c.notifier.SendSimple(
			fmt.Sprintf("%s back on schedule", r.Name),
			fmt.Sprintf("Temporary %s ended", kind),
			notify.LevelInfo)
	}

	*r = *next
	return nil
}

// SweepExceptions reconciles every selected rule whose exception has expired
// and refreshes the active-exception gauges. The daemon runs this on every
// tick as the fallback for wakes that were lost to a restart.
func (c *Controller) SweepExceptions() error {
	rules, err := c.repo.FindSelected()
	if err != nil {
		return err
	}
	now := c.clock.Now()

	var allows, delays float64
	g := &errgroup.Group{}
	g.SetLimit(4)

	for _, r := range rules {
		if r.ActiveAllow(now) {
			allows++
		}
		if r.ActiveDelay(now) {
			delays++
		}
		if !r.ExceptionDue(now) {
			continue
		}
		ruleID := r.RuleID
		g.Go(func() error {
			return c.ReconcileRule(ruleID)
		})
	}

	err = g.Wait()
	c.metrics.ExceptionsActive.WithLabelValues("allow").Set(allows)
	c.metrics.ExceptionsActive.WithLabelValues("delay").Set(delays)
	return err
}

func (c *Controller) scheduleWake(action, ruleID string, at time.Time) {
	if c.wakes == nil {
		return
	}
	kind := "allow"
	if action == wake.ActionReconcileDelay {
		kind = "delay"
	}
	if err := c.wakes.ScheduleAt(wakeID(kind, ruleID), at, wake.Payload{
		Action: action,
		RuleID: ruleID,
	}); err != nil {
		c.logger.Warn("failed to schedule wake", "rule_id", ruleID, "error", err)
	}
}

// cancelWakes drops any pending reconciliation wake for the rule. Used when
// the exception is cleared through a path other than its own wake.
func (c *Controller) cancelWakes(ruleID string) {
	if c.wakes == nil {
		return
	}
	c.wakes.Cancel(wakeID("allow", ruleID))
	c.wakes.Cancel(wakeID("delay", ruleID))
}

func wakeID(kind, ruleID string) string {
	return kind + "/" + ruleID
}
