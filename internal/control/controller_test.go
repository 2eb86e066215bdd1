package control

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"larkspur.is/curfew/internal/clock"
	"larkspur.is/curfew/internal/config"
	"larkspur.is/curfew/internal/logging"
	"larkspur.is/curfew/internal/remote"
	"larkspur.is/curfew/internal/rule"
	"larkspur.is/curfew/internal/store"
	"larkspur.is/curfew/internal/wake"
)

type harness struct {
	ctrl   *Controller
	repo   *store.SQLiteStore
	remote *fakeRemote
	clock  *clock.MockClock
	wakes  *wake.TimerScheduler
	table  *wake.Table
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo, err := store.Open(store.Options{Path: ":memory:", Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	fake := newFakeRemote()
	table := wake.NewTable()
	wakes := wake.NewTimerScheduler(table, clk, logging.Default())

	ctrl, err := New(Options{
		Repo:   repo,
		Client: fake,
		Clock:  clk,
		Logger: logging.Default(),
		Wakes:  wakes,
		People: []config.PersonConfig{
			{Name: "emma", Prefixes: []string{"emma-"}},
		},
	})
	require.NoError(t, err)
	ctrl.RegisterWakeActions(table)

	return &harness{ctrl: ctrl, repo: repo, remote: fake, clock: clk, wakes: wakes, table: table}
}

// seed creates matching local and remote records for a DAILY block rule.
func (h *harness) seed(t *testing.T, id string, enabled bool, start, end string) *rule.ManagedRule {
	t.Helper()

	r := &rule.ManagedRule{
		RuleID:        id,
		Name:          "emma-bedtime",
		Action:        "BLOCK",
		Enabled:       enabled,
		ScheduleMode:  rule.ModeDaily,
		ScheduleStart: start,
		ScheduleEnd:   end,
		Person:        "emma",
		Selected:      true,
	}
	require.NoError(t, h.repo.Save(r))
	h.remote.put(&remote.Snapshot{
		ID:      id,
		Type:    "downtime",
		Name:    r.Name,
		Action:  r.Action,
		Enabled: enabled,
		Schedule: remote.Schedule{
			Mode:           string(r.ScheduleMode),
			TimeRangeStart: start,
			TimeRangeEnd:   end,
		},
	})
	return r
}

func (h *harness) setClock(t *testing.T, hour, min int) {
	t.Helper()
	h.clock.Set(time.Date(2025, 6, 1, hour, min, 0, 0, time.UTC))
}

func (h *harness) mustFind(t *testing.T, id string) *rule.ManagedRule {
	t.Helper()
	r, err := h.repo.FindByID(id)
	require.NoError(t, err)
	return r
}

func TestToggleAllowInsideWindow(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 23, 0)

	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentAllowTraffic))

	got := h.mustFind(t, "r1")
	assert.False(t, got.Enabled)
	assert.Equal(t, rule.ModeDaily, got.ScheduleMode)
	assert.False(t, rule.IsBlocking(got, h.clock.Now()))

	// Pause only touches the enabled flag, so the batch endpoint is used
	assert.Equal(t, 1, h.remote.callCount("batch-update"))
	assert.Equal(t, 0, h.remote.callCount("replace"))
	assert.False(t, h.remote.get("r1").Enabled)
}

func TestToggleBlockOutsideWindowSnapshotsSchedule(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 12, 0)

	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentBlockTraffic))

	got := h.mustFind(t, "r1")
	assert.Equal(t, rule.ModeAlways, got.ScheduleMode)
	assert.True(t, got.HasOriginalSchedule())
	assert.Equal(t, "21:00", *got.OriginalScheduleStart)
	assert.True(t, rule.IsBlocking(got, h.clock.Now()))

	// A schedule change goes through fetch plus full replace
	assert.Equal(t, 1, h.remote.callCount("fetch"))
	assert.Equal(t, 1, h.remote.callCount("replace"))
	assert.Equal(t, "ALWAYS", h.remote.get("r1").Schedule.Mode)
}

func TestToggleRoundTripRestoresSchedule(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 12, 0)

	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentBlockTraffic))
	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentAllowTraffic))

	got := h.mustFind(t, "r1")
	assert.Equal(t, rule.ModeDaily, got.ScheduleMode)
	assert.Equal(t, "21:00", got.ScheduleStart)
	assert.Equal(t, "07:00", got.ScheduleEnd)
	assert.False(t, got.HasOriginalSchedule())
	assert.True(t, got.Enabled, "outside the restored window no pause is needed")

	snap := h.remote.get("r1")
	assert.Equal(t, "DAILY", snap.Schedule.Mode)
	assert.Equal(t, "21:00", snap.Schedule.TimeRangeStart)
}

func TestToggleRollbackOnRemoteFailure(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 23, 0)

	prior := h.mustFind(t, "r1")
	h.remote.failWith("batch-update", remote.ErrUnreachable)

	err := h.ctrl.Toggle("r1", rule.IntentAllowTraffic)
	require.ErrorIs(t, err, remote.ErrUnreachable)

	// The store holds the exact pre-mutation record
	got := h.mustFind(t, "r1")
	if diff := cmp.Diff(prior, got); diff != "" {
		t.Errorf("rolled-back record differs from prior (-want +got):\n%s", diff)
	}
	assert.True(t, h.remote.get("r1").Enabled, "remote untouched")
}

func TestToggleRejectedWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 23, 0)

	require.True(t, h.ctrl.guard.acquire("r1"))
	defer h.ctrl.guard.release("r1")

	err := h.ctrl.Toggle("r1", rule.IntentAllowTraffic)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, h.remote.mutationCount())
}

func TestConcurrentTogglesProduceOneMutation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 23, 0)

	gate := make(chan struct{})
	h.remote.mu.Lock()
	h.remote.gate = gate
	h.remote.mu.Unlock()

	const n = 5
	errs := make(chan error, n)
	var rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.ctrl.Toggle("r1", rule.IntentAllowTraffic)
			if err != nil {
				rejected.Add(1)
			}
			errs <- err
		}()
	}

	// Wait until the winning toggle has its mutation in flight and every
	// other attempt has bounced off the guard, then let the winner finish.
	require.Eventually(t, func() bool {
		return h.remote.mutationCount() == 1 && rejected.Load() == n-1
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	var ok, busy int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			busy++
			assert.ErrorIs(t, err, ErrBusy)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, busy)
	assert.Equal(t, 1, h.remote.mutationCount())
}

func TestToggleClearsActiveExceptionFirst(t *testing.T) {
	h := newHarness(t)
	r := h.seed(t, "r1", false, "21:00", "07:00")
	h.setClock(t, 23, 0)

	// Active allow: paused now, was enabled before
	r.TemporaryAllow = &rule.TemporaryAllow{
		Expiry:       h.clock.Now().Add(time.Hour),
		PriorEnabled: true,
	}
	require.NoError(t, h.repo.Save(r))
	snap := h.remote.get("r1")
	snap.Enabled = false
	h.remote.put(snap)

	// ALLOW while an allow exception runs converts it into a plain pause
	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentAllowTraffic))

	got := h.mustFind(t, "r1")
	assert.Nil(t, got.TemporaryAllow)
	assert.False(t, got.Enabled)

	// Restoring the enabled flag and pausing again net out, so the remote
	// is not touched at all
	assert.Zero(t, h.remote.mutationCount())
	assert.False(t, h.remote.get("r1").Enabled)
}

func TestToggleBlockDuringActiveAllow(t *testing.T) {
	h := newHarness(t)
	r := h.seed(t, "r1", false, "21:00", "07:00")
	h.setClock(t, 23, 0)

	// Active allow: paused now, blocking before it started
	r.TemporaryAllow = &rule.TemporaryAllow{
		Expiry:       h.clock.Now().Add(time.Hour),
		PriorEnabled: true,
	}
	require.NoError(t, h.repo.Save(r))
	require.NoError(t, h.wakes.ScheduleAt(wakeID("allow", "r1"), r.TemporaryAllow.Expiry, wake.Payload{
		Action: wake.ActionReconcileAllow,
		RuleID: "r1",
	}))

	// Dropping the exception already restores blocking, so BLOCK succeeds
	// with a single remote write
	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentBlockTraffic))

	got := h.mustFind(t, "r1")
	assert.Nil(t, got.TemporaryAllow)
	assert.True(t, got.Enabled)
	assert.True(t, rule.IsBlocking(got, h.clock.Now()))

	assert.True(t, h.remote.get("r1").Enabled)
	assert.Equal(t, 1, h.remote.mutationCount())
	assert.Zero(t, h.wakes.Pending(), "reconciliation wake cancelled")
}

func TestToggleBlockDuringActiveDelay(t *testing.T) {
	h := newHarness(t)
	r := h.seed(t, "r1", true, "23:30", "07:00")
	h.setClock(t, 23, 0)

	// Active delay: start pushed from 21:00 to 23:30, not blocking yet
	r.TemporaryDelay = &rule.TemporaryDelay{
		Expiry:             h.clock.Now().Add(30 * time.Minute),
		PriorScheduleStart: "21:00",
	}
	require.NoError(t, h.repo.Save(r))
	require.NoError(t, h.wakes.ScheduleAt(wakeID("delay", "r1"), r.TemporaryDelay.Expiry, wake.Payload{
		Action: wake.ActionReconcileDelay,
		RuleID: "r1",
	}))

	// The restored 21:00 start already covers 23:00, so one replace
	// realizes the BLOCK
	require.NoError(t, h.ctrl.Toggle("r1", rule.IntentBlockTraffic))

	got := h.mustFind(t, "r1")
	assert.Nil(t, got.TemporaryDelay)
	assert.Equal(t, "21:00", got.ScheduleStart)
	assert.True(t, rule.IsBlocking(got, h.clock.Now()))

	assert.Equal(t, "21:00", h.remote.get("r1").Schedule.TimeRangeStart)
	assert.Equal(t, 1, h.remote.mutationCount())
	assert.Zero(t, h.wakes.Pending(), "reconciliation wake cancelled")
}

func TestToggleNotFoundMarksStale(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 23, 0)
	h.remote.failWith("batch-update", remote.ErrNotFound)

	err := h.ctrl.Toggle("r1", rule.IntentAllowTraffic)
	require.ErrorIs(t, err, remote.ErrNotFound)

	got := h.mustFind(t, "r1")
	assert.True(t, got.Stale)
	assert.True(t, got.Enabled, "toggle rolled back")
}

func TestStaleRuleExcludedFromManagement(t *testing.T) {
	h := newHarness(t)
	r := h.seed(t, "r1", true, "21:00", "07:00")
	r.Stale = true
	r.TemporaryAllow = &rule.TemporaryAllow{
		Expiry:       h.clock.Now().Add(-time.Minute),
		PriorEnabled: true,
	}
	require.NoError(t, h.repo.Save(r))

	sts, err := h.ctrl.StatusAll()
	require.NoError(t, err)
	assert.Empty(t, sts)

	// The due exception is not retried against a rule the remote lost
	require.NoError(t, h.ctrl.SweepExceptions())
	assert.Zero(t, h.remote.mutationCount())
	assert.Zero(t, h.remote.callCount("fetch"))
}

func TestToggleBlockOnAllowRuleIsInconsistent(t *testing.T) {
	h := newHarness(t)
	r := h.seed(t, "r1", true, "21:00", "07:00")
	r.Action = "ALLOW"
	require.NoError(t, h.repo.Save(r))
	h.setClock(t, 12, 0)

	err := h.ctrl.Toggle("r1", rule.IntentBlockTraffic)
	assert.ErrorIs(t, err, rule.ErrInconsistentState)
	assert.Zero(t, h.remote.mutationCount())
}

func TestStatusReportsExceptionRemaining(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")
	h.setClock(t, 23, 0)

	require.NoError(t, h.ctrl.AllowFor("r1", 30*time.Minute))

	st, err := h.ctrl.Status("r1")
	require.NoError(t, err)
	assert.False(t, st.Blocking)
	assert.Equal(t, 30*time.Minute, st.AllowRemaining)
}

func TestSelect(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "r1", true, "21:00", "07:00")

	require.NoError(t, h.ctrl.Select("r1", false))
	got := h.mustFind(t, "r1")
	assert.False(t, got.Selected)

	require.NoError(t, h.ctrl.Select("r1", true))
	got = h.mustFind(t, "r1")
	assert.True(t, got.Selected)
}
