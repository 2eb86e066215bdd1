package control

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"larkspur.is/curfew/internal/notify"
	"larkspur.is/curfew/internal/remote"
	"larkspur.is/curfew/internal/rule"
	"larkspur.is/curfew/internal/store"
)

// Refresh re-reads the remote rule list and folds it into the store.
//
// The remote is authoritative for the fields it owns: name, action, priority,
// enabled, and the schedule. The local exception memory (original-schedule
// snapshot, temporary allow, temporary delay) is never touched by a refresh;
// the remote has no concept of it. Tracked rules missing from the listing are
// flagged stale rather than deleted, since a transient listing gap and a real
// deletion look the same from here.
func (c *Controller) Refresh() error {
	now := c.clock.Now()

	start := time.Now()
	snaps, err := c.client.List(remote.ListFilter{NamePrefixes: c.allPrefixes()})
	c.metrics.RecordRemote("list", time.Since(start).Seconds(), err)
	if err != nil {
		c.metrics.RefreshRuns.WithLabelValues("error").Inc()
		return err
	}

	byID := make(map[string]*remote.Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}

	tracked, err := c.repo.All()
	if err != nil {
		return err
	}
	trackedIDs := make(map[string]bool, len(tracked))
	for _, r := range tracked {
		trackedIDs[r.RuleID] = true
	}

	g := &errgroup.Group{}
	g.SetLimit(4)

	var staleCount int64
	for _, r := range tracked {
		r := r
		g.Go(func() error {
			snap, ok := byID[r.RuleID]
			if !ok {
				if !r.Stale {
					c.logger.Warn("rule missing from remote listing, marking stale",
						"rule_id", r.RuleID, "name", r.Name)
					if c.notifier != nil {
						c.notifier.SendSimple(
							fmt.Sprintf("%s disappeared from the gateway", r.Name),
							"The rule is kept locally and flagged stale; re-create it or unselect it.",
							notify.LevelWarning)
					}
				}
				r.Stale = true
				atomic.AddInt64(&staleCount, 1)
				return c.repo.Save(r)
			}
			mergeSnapshot(r, snap, now)
			return c.repo.Save(r)
		})
	}

	// New rules matching a configured prefix become unselected candidates.
	for _, s := range snaps {
		if trackedIDs[s.ID] {
			continue
		}
		s := s
		g.Go(func() error {
			r := ruleFromSnapshot(s, c.personFor(s.Name), now)
			c.logger.Info("discovered rule", "rule_id", r.RuleID, "name", r.Name, "person", r.Person)
			return c.repo.Save(r)
		})
	}

	if err := g.Wait(); err != nil {
		c.metrics.RefreshRuns.WithLabelValues("error").Inc()
		return err
	}

	c.metrics.RefreshRuns.WithLabelValues("ok").Inc()
	c.metrics.StaleRules.Set(float64(atomic.LoadInt64(&staleCount)))
	c.metrics.TrackedRules.Set(float64(len(trackedIDs)))
	return nil
}

func (c *Controller) allPrefixes() []string {
	var out []string
	for _, p := range c.people {
		out = append(out, p.Prefixes...)
	}
	return out
}

func (c *Controller) personFor(name string) string {
	for _, p := range c.people {
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(name, prefix) {
				return p.Name
			}
		}
	}
	return ""
}

// mergeSnapshot folds the remote-owned fields into the local record.
func mergeSnapshot(r *rule.ManagedRule, s *remote.Snapshot, now time.Time) {
	r.Name = s.Name
	r.Action = s.Action
	r.PriorityIndex = s.PriorityIndex
	r.Enabled = s.Enabled
	r.ScheduleMode = rule.ScheduleMode(s.Schedule.Mode)
	r.ScheduleStart = s.Schedule.TimeRangeStart
	r.ScheduleEnd = s.Schedule.TimeRangeEnd
	r.Stale = false
	r.LastSynced = now
}

func ruleFromSnapshot(s *remote.Snapshot, person string, now time.Time) *rule.ManagedRule {
	return &rule.ManagedRule{
		RuleID:        s.ID,
		Name:          s.Name,
		Action:        s.Action,
		PriorityIndex: s.PriorityIndex,
		Enabled:       s.Enabled,
		ScheduleMode:  rule.ScheduleMode(s.Schedule.Mode),
		ScheduleStart: s.Schedule.TimeRangeStart,
		ScheduleEnd:   s.Schedule.TimeRangeEnd,
		Person:        person,
		Selected:      false,
		LastSynced:    now,
	}
}

// SaveSettings persists the connection settings so status commands can run
// without the config file present.
func (c *Controller) SaveSettings(host, site string) error {
	return c.repo.SaveSettings(&store.Settings{
		Host:         host,
		Site:         site,
		RulePrefixes: c.allPrefixes(),
	})
}
