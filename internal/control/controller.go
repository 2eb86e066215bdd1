// Package control implements the curfew engine: toggling rules between
// blocking and allowing, temporary exceptions, and synchronization with the
// remote rule API.
//
// The engine composes the pure decision logic in internal/rule with the
// remote client and the local store. Every mutation follows the same shape:
// decide the target state locally, write it to the store optimistically,
// apply it remotely, and roll the store back to the exact prior record if
// the remote rejects or is unreachable.
package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"larkspur.is/curfew/internal/clock"
	"larkspur.is/curfew/internal/config"
	"larkspur.is/curfew/internal/logging"
	"larkspur.is/curfew/internal/metrics"
	"larkspur.is/curfew/internal/notify"
	"larkspur.is/curfew/internal/remote"
	"larkspur.is/curfew/internal/rule"
	"larkspur.is/curfew/internal/store"
	"larkspur.is/curfew/internal/wake"
)

// Options configures a Controller.
type Options struct {
	Repo     store.Repository
	Client   remote.Client
	Clock    clock.Clock
	Logger   *logging.Logger
	Wakes    wake.Scheduler
	Notifier *notify.Dispatcher
	People   []config.PersonConfig
}

// Controller is the curfew engine.
type Controller struct {
	repo     store.Repository
	client   remote.Client
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Registry
	wakes    wake.Scheduler
	notifier *notify.Dispatcher
	people   []config.PersonConfig
	guard    *guard
}

// New creates a Controller. Repo and Client are required.
func New(opts Options) (*Controller, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("control: store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("control: remote client is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		repo:     opts.Repo,
		client:   opts.Client,
		clock:    clk,
		logger:   logger.WithComponent("control"),
		metrics:  metrics.Get(),
		wakes:    opts.Wakes,
		notifier: opts.Notifier,
		people:   opts.People,
		guard:    newGuard(),
	}, nil
}

// RegisterWakeActions binds the wake action names to this controller.
func (c *Controller) RegisterWakeActions(t *wake.Table) {
	t.Register(wake.ActionReconcileAllow, c.ReconcileRule)
	t.Register(wake.ActionReconcileDelay, c.ReconcileRule)
	t.Register(wake.ActionRefresh, func(string) error { return c.Refresh() })
}

// RuleStatus is the derived view of one managed rule.
type RuleStatus struct {
	Rule           *rule.ManagedRule
	Blocking       bool
	Summary        string
	AllowRemaining time.Duration
	DelayRemaining time.Duration
}

// Status derives the current view of one rule.
func (c *Controller) Status(ruleID string) (*RuleStatus, error) {
	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return nil, err
	}
	return c.statusOf(r), nil
}

// StatusAll derives the current view of every selected rule.
func (c *Controller) StatusAll() ([]*RuleStatus, error) {
	rules, err := c.repo.FindSelected()
	if err != nil {
		return nil, err
	}
	out := make([]*RuleStatus, 0, len(rules))
	for _, r := range rules {
		out = append(out, c.statusOf(r))
	}
	return out, nil
}

func (c *Controller) statusOf(r *rule.ManagedRule) *RuleStatus {
	now := c.clock.Now()
	blocking, summary := rule.Evaluate(r, now)
	st := &RuleStatus{Rule: r, Blocking: blocking, Summary: summary}
	if r.ActiveAllow(now) {
		st.AllowRemaining = r.TemporaryAllow.Expiry.Sub(now)
		st.Summary = fmt.Sprintf("Allowed for %s more", st.AllowRemaining.Round(time.Minute))
	}
	if r.ActiveDelay(now) {
		st.DelayRemaining = r.TemporaryDelay.Expiry.Sub(now)
		st.Summary = fmt.Sprintf("Blocking delayed until %s", r.ScheduleStart)
	}
	return st
}

// Toggle moves a rule to the desired traffic outcome. An active exception is
// discarded first so the decision runs against the base state.
func (c *Controller) Toggle(ruleID string, intent rule.Intent) error {
	if !c.guard.acquire(ruleID) {
		c.metrics.ToggleRejected.WithLabelValues(string(intent)).Inc()
		return fmt.Errorf("%w: rule %s", ErrBusy, ruleID)
	}
	defer c.guard.release(ruleID)

	err := c.toggleLocked(ruleID, intent)
	c.metrics.RecordToggle(string(intent), err)
	return err
}

func (c *Controller) toggleLocked(ruleID string, intent rule.Intent) error {
	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return err
	}
	now := c.clock.Now()

	// A pending exception never survives a manual toggle. It is discarded
	// locally and its restoration folded into this mutation, so the remote
	// sees one transition from the exception state to the requested one
	// and a remote failure cannot leave the rule half-toggled.
	base := r
	hadException := r.TemporaryAllow != nil || r.TemporaryDelay != nil
	if hadException {
		base = clearException(r)
	}

	var next *rule.ManagedRule
	if hadException && intentSatisfied(intent, base, now) {
		// Discarding the exception alone realizes the request.
		next = base
	} else {
		next, err = rule.Decide(intent, base, now)
		if err != nil {
			return err
		}
	}

	op := uuid.NewString()
	c.logger.Info("applying toggle",
		"op", op, "rule", r.Name, "rule_id", r.RuleID, "intent", intent)

	if err := c.push(r, next, now); err != nil {
		c.logger.Warn("toggle failed, local state rolled back",
			"op", op, "rule_id", r.RuleID, "error", err)
		return err
	}
	if hadException {
		c.cancelWakes(ruleID)
	}

	c.logger.Audit("toggle", r.RuleID, map[string]any{
		"op": op, "intent": string(intent), "enabled": next.Enabled, "mode": next.ScheduleMode,
	})
	if c.notifier != nil {
		verb := "blocking"
		if intent == rule.IntentAllowTraffic {
			verb = "allowing"
		}
		c.notifier.SendSimple(
			fmt.Sprintf("%s now %s", r.Name, verb),
			fmt.Sprintf("Toggled by operator at %s", now.Format(time.Kitchen)),
			notify.LevelInfo)
	}
	return nil
}

// clearException returns a copy of r with its exception discarded and the
// state the exception recorded put back. Nothing is pushed here; the caller
// folds the restoration into its own mutation.
func clearException(r *rule.ManagedRule) *rule.ManagedRule {
	next := r.Clone()
	if r.TemporaryAllow != nil {
		next.Enabled = r.TemporaryAllow.PriorEnabled
		next.TemporaryAllow = nil
	}
	if r.TemporaryDelay != nil {
		next.ScheduleStart = r.TemporaryDelay.PriorScheduleStart
		next.TemporaryDelay = nil
	}
	return next
}

// intentSatisfied reports whether the rule already produces the outcome the
// intent asks for.
func intentSatisfied(intent rule.Intent, r *rule.ManagedRule, now time.Time) bool {
	blocking := rule.IsBlocking(r, now)
	if intent == rule.IntentBlockTraffic {
		return blocking
	}
	return !blocking
}

// AllRules returns every tracked rule, selected or not.
func (c *Controller) AllRules() ([]*rule.ManagedRule, error) {
	return c.repo.All()
}

// Select marks a rule as managed or not.
func (c *Controller) Select(ruleID string, selected bool) error {
	r, err := c.repo.FindByID(ruleID)
	if err != nil {
		return err
	}
	if r.Selected == selected {
		return nil
	}
	r.Selected = selected
	return c.repo.Save(r)
}

// push writes next to the store, applies it remotely, and restores prior on
// remote failure. The store therefore always holds either the confirmed new
// state or the exact pre-mutation record, never a half-applied mix.
func (c *Controller) push(prior, next *rule.ManagedRule, now time.Time) error {
	rollback := prior.Clone()

	if err := c.repo.Save(next); err != nil {
		return fmt.Errorf("saving optimistic state: %w", err)
	}

	if sameRemoteFields(prior, next) {
		// Local-only change; the remote already shows these fields.
		return nil
	}

	var err error
	if onlyEnabledDiffers(prior, next) {
		start := time.Now()
		_, err = c.client.BatchPartialUpdate(next.RuleID, remote.FieldDelta{"enabled": next.Enabled})
		c.metrics.RecordRemote("batch-update", time.Since(start).Seconds(), err)
	} else {
		err = c.replaceRemote(next)
	}

	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// The rule is gone remotely. Flag it so evaluation and
			// sweeps stop until a refresh finds it again.
			rollback.Stale = true
			c.logger.Warn("rule not found remotely, marking stale",
				"rule_id", next.RuleID)
		}
		if saveErr := c.repo.Save(rollback); saveErr != nil {
			c.logger.Error("rollback write failed, store may disagree with remote",
				"rule_id", next.RuleID, "error", saveErr)
		}
		return err
	}

	next.Stale = false
	next.LastSynced = now
	return c.repo.Save(next)
}

// replaceRemote fetches the authoritative object, applies the owned fields,
// and sends it back whole. The remote accepts only full replacement for
// schedule changes, and building the object from the freshest fetch keeps
// unmanaged fields from being overwritten with stale copies.
func (c *Controller) replaceRemote(next *rule.ManagedRule) error {
	start := time.Now()
	snap, err := c.client.Fetch(next.RuleID)
	c.metrics.RecordRemote("fetch", time.Since(start).Seconds(), err)
	if err != nil {
		return err
	}

	snap.Enabled = next.Enabled
	snap.Schedule = remote.Schedule{
		Mode:           string(next.ScheduleMode),
		TimeRangeStart: next.ScheduleStart,
		TimeRangeEnd:   next.ScheduleEnd,
	}

	start = time.Now()
	_, err = c.client.Replace(next.RuleID, snap)
	c.metrics.RecordRemote("replace", time.Since(start).Seconds(), err)
	return err
}

// onlyEnabledDiffers reports whether the pause flag is the only remote-visible
// change, in which case the cheaper batch partial update suffices.
func onlyEnabledDiffers(a, b *rule.ManagedRule) bool {
	return a.Enabled != b.Enabled &&
		a.ScheduleMode == b.ScheduleMode &&
		a.ScheduleStart == b.ScheduleStart &&
		a.ScheduleEnd == b.ScheduleEnd
}

// sameRemoteFields reports whether the two records agree on every field the
// remote can see, meaning the mutation needs no remote call at all.
func sameRemoteFields(a, b *rule.ManagedRule) bool {
	return a.Enabled == b.Enabled &&
		a.ScheduleMode == b.ScheduleMode &&
		a.ScheduleStart == b.ScheduleStart &&
		a.ScheduleEnd == b.ScheduleEnd
}
