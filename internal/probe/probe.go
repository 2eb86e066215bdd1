// Package probe checks whether the gateway host answers pings.
//
// Probes are debounced per target: at most one probe runs at a time, and
// while one is running further requests collapse into a single pending
// re-probe. A burst of failed API calls therefore costs one extra probe,
// not one per call.
package probe

import (
	"fmt"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"larkspur.is/curfew/internal/clock"
	"larkspur.is/curfew/internal/logging"
)

// Result is the outcome of a single probe.
type Result struct {
	Target    string
	Reachable bool
	RTT       time.Duration
	Err       error
	CheckedAt time.Time
}

// CheckFunc performs one reachability check. Swappable for tests.
type CheckFunc func(target string) (time.Duration, error)

// Pinger debounces reachability probes against a single target.
type Pinger struct {
	target   string
	check    CheckFunc
	clock    clock.Clock
	logger   *logging.Logger
	onResult func(Result)

	mu       sync.Mutex
	inFlight bool
	pending  bool
	last     *Result
}

// New creates a pinger for target. onResult may be nil.
func New(target string, clk clock.Clock, logger *logging.Logger, onResult func(Result)) *Pinger {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pinger{
		target:   target,
		check:    icmpCheck,
		clock:    clk,
		logger:   logger.WithComponent("probe"),
		onResult: onResult,
	}
}

// SetCheckFunc replaces the probe implementation.
func (p *Pinger) SetCheckFunc(fn CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.check = fn
}

// Request asks for a probe. If one is already running the request is
// coalesced into at most one pending re-probe.
func (p *Pinger) Request() {
	p.mu.Lock()
	if p.inFlight {
		p.pending = true
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go p.run()
}

func (p *Pinger) run() {
	for {
		p.mu.Lock()
		check := p.check
		p.mu.Unlock()

		rtt, err := check(p.target)
		res := Result{
			Target:    p.target,
			Reachable: err == nil,
			RTT:       rtt,
			Err:       err,
			CheckedAt: p.clock.Now(),
		}

		p.mu.Lock()
		p.last = &res
		rerun := p.pending
		p.pending = false
		if !rerun {
			p.inFlight = false
		}
		p.mu.Unlock()

		if res.Reachable {
			p.logger.Debug("gateway reachable", "target", p.target, "rtt", rtt)
		} else {
			p.logger.Warn("gateway unreachable", "target", p.target, "error", err)
		}
		if p.onResult != nil {
			p.onResult(res)
		}

		if !rerun {
			return
		}
	}
}

// Last returns the most recent result, or nil if no probe has completed.
func (p *Pinger) Last() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	res := *p.last
	return &res
}

// icmpCheck sends one unprivileged ping with a short timeout.
func icmpCheck(target string) (time.Duration, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("packet loss")
	}
	return stats.AvgRtt, nil
}
