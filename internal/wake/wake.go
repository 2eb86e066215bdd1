// Package wake schedules wake-at-time callbacks for exception expiries.
//
// The controller registers a wake for every temporary allow/delay it starts.
// A wake firing dispatches an action through the command table. The engine
// never assumes a wake actually fires: the foreground sweep is the fallback
// and both paths converge on the same idempotent reconciliation.
package wake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"larkspur.is/curfew/internal/clock"
	"larkspur.is/curfew/internal/logging"
)

// Payload describes what to do when a wake fires.
type Payload struct {
	Action string `json:"action"`
	RuleID string `json:"rule_id"`
}

// Scheduler is the wake collaborator interface.
type Scheduler interface {
	ScheduleAt(id string, at time.Time, payload Payload) error
	Cancel(id string)
}

type entry struct {
	at      time.Time
	payload Payload
}

// TimerScheduler is an in-process Scheduler driven by a ticker loop.
type TimerScheduler struct {
	mu      sync.Mutex
	entries map[string]entry
	actions *Table
	clock   clock.Clock
	logger  *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewTimerScheduler creates a scheduler dispatching into the given table.
func NewTimerScheduler(actions *Table, clk clock.Clock, logger *logging.Logger) *TimerScheduler {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TimerScheduler{
		entries: make(map[string]entry),
		actions: actions,
		clock:   clk,
		logger:  logger.WithComponent("wake"),
	}
}

// ScheduleAt registers (or replaces) a wake for the given id.
func (s *TimerScheduler) ScheduleAt(id string, at time.Time, payload Payload) error {
	if id == "" {
		return fmt.Errorf("wake id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = entry{at: at, payload: payload}
	s.logger.Debug("wake scheduled", "id", id, "at", at, "action", payload.Action)
	return nil
}

// Cancel removes a pending wake. Cancelling an unknown id is a no-op.
func (s *TimerScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.logger.Debug("wake cancelled", "id", id)
	}
}

// Pending returns the number of scheduled wakes.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the ticker loop until Stop.
func (s *TimerScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop halts the ticker loop and waits for in-flight dispatches.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *TimerScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep fires every wake whose time has arrived. Exposed so tests (and the
// foreground path) can drive it with a mock clock instead of the ticker.
func (s *TimerScheduler) Sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []Payload
	for id, e := range s.entries {
		if !e.at.After(now) {
			due = append(due, e.payload)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, p := range due {
		if err := s.actions.Dispatch(p); err != nil {
			s.logger.Warn("wake dispatch failed", "action", p.Action, "rule_id", p.RuleID, "error", err)
		}
	}
}
