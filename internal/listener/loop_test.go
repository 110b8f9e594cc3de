package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceout-archive/report-listener/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeRunner struct {
	mu       sync.Mutex
	outcomes []error
	triggers []Trigger
}

func (f *fakeRunner) RunCycle(_ context.Context, trigger Trigger) (RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)

	var err error
	if len(f.outcomes) > 0 {
		err = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	if err != nil {
		return RunSummary{}, err
	}
	now := time.Now().UTC()
	return RunSummary{
		Trigger:      string(trigger),
		At:           now,
		PagesFetched: 1,
		ScrapedRows:  2,
		Cursor:       &now,
	}, nil
}

func (f *fakeRunner) seen() []Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Trigger(nil), f.triggers...)
}

// runLoop drives the loop with an instrumented sleep, stopping once the
// given number of waits has been observed.
func runLoop(t *testing.T, cfg LoopConfig, runner CycleRunner, state *State, stopAfterWaits int) []time.Duration {
	t.Helper()

	loop := NewLoop(cfg, runner, state, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	loop.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) >= stopAfterWaits {
			cancel()
			return context.Canceled
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	return waits
}

func TestLoopBackoffDoublesAndCaps(t *testing.T) {
	cfg := LoopConfig{
		PollInterval: time.Minute,
		BackoffBase:  2 * time.Second,
		BackoffMax:   8 * time.Second,
	}
	runner := &fakeRunner{outcomes: []error{
		errors.New("boom"),
		errors.New("boom"),
		errors.New("boom"),
		errors.New("boom"),
	}}
	state := NewState()

	waits := runLoop(t, cfg, runner, state, 4)
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}, waits)
}

func TestLoopSuccessResetsBackoff(t *testing.T) {
	cfg := LoopConfig{
		PollInterval: time.Minute,
		BackoffBase:  2 * time.Second,
		BackoffMax:   time.Minute,
	}
	runner := &fakeRunner{outcomes: []error{
		errors.New("boom"),
		errors.New("boom"),
		nil,
		errors.New("boom"),
	}}
	state := NewState()

	waits := runLoop(t, cfg, runner, state, 4)
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		time.Minute,
		2 * time.Second,
	}, waits)
}

func TestLoopTriggerSequence(t *testing.T) {
	runner := &fakeRunner{}
	waits := runLoop(t, LoopConfig{PollInterval: time.Minute, BackoffBase: time.Second, BackoffMax: time.Minute}, runner, NewState(), 3)

	require.Len(t, waits, 3)
	triggers := runner.seen()
	require.Len(t, triggers, 3)
	assert.Equal(t, TriggerStartup, triggers[0])
	assert.Equal(t, TriggerLoop, triggers[1])
	assert.Equal(t, TriggerLoop, triggers[2])
}

func TestLoopRetriesKeepStartupTriggerUntilFirstSuccess(t *testing.T) {
	runner := &fakeRunner{outcomes: []error{
		errors.New("boom"),
		errors.New("boom"),
		nil,
	}}
	waits := runLoop(t, LoopConfig{PollInterval: time.Minute, BackoffBase: time.Second, BackoffMax: time.Minute}, runner, NewState(), 4)

	require.Len(t, waits, 4)
	triggers := runner.seen()
	require.Len(t, triggers, 4)
	assert.Equal(t, []Trigger{TriggerStartup, TriggerStartup, TriggerStartup, TriggerLoop}, triggers)
}

func TestLoopRunOnceEndsAfterOneCycle(t *testing.T) {
	for _, outcome := range []error{nil, errors.New("boom")} {
		runner := &fakeRunner{outcomes: []error{outcome}}
		loop := NewLoop(LoopConfig{BackoffBase: time.Second, BackoffMax: time.Minute, RunOnce: true}, runner, NewState(), nil, nil)
		loop.sleep = func(context.Context, time.Duration) error {
			t.Fatal("run-once mode must not sleep")
			return nil
		}

		loop.Run(context.Background())
		assert.Len(t, runner.seen(), 1)
	}
}

func TestTriggerManualSkippedWhileRunning(t *testing.T) {
	runner := &fakeRunner{}
	state := NewState()
	loop := NewLoop(LoopConfig{BackoffBase: time.Second, BackoffMax: time.Minute}, runner, state, nil, nil)

	require.True(t, state.BeginCycle())
	loop.TriggerManual(context.Background())
	assert.Empty(t, runner.seen())

	state.EndCycle(nil, nil)
	loop.TriggerManual(context.Background())
	triggers := runner.seen()
	require.Len(t, triggers, 1)
	assert.Equal(t, TriggerManual, triggers[0])
}

func TestTriggerManualSkippedDuringShutdown(t *testing.T) {
	runner := &fakeRunner{}
	state := NewState()
	loop := NewLoop(LoopConfig{BackoffBase: time.Second, BackoffMax: time.Minute}, runner, state, nil, nil)

	state.BeginShutdown()
	loop.TriggerManual(context.Background())
	assert.Empty(t, runner.seen())
}

func TestStateRecordsOutcomes(t *testing.T) {
	state := NewState()
	cursorAt := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	summary := &RunSummary{Trigger: "startup", ScrapedRows: 3, Cursor: &cursorAt}

	require.True(t, state.BeginCycle())
	state.EndCycle(summary, nil)

	snap := state.Snapshot()
	assert.False(t, snap.Running)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, summary, snap.LastRun)
	require.NotNil(t, snap.Cursor)
	assert.Equal(t, cursorAt, *snap.Cursor)

	// A failed cycle records the error but keeps the last good summary.
	require.True(t, state.BeginCycle())
	state.EndCycle(nil, errors.New("browser gone"))

	snap = state.Snapshot()
	assert.Equal(t, "browser gone", snap.LastError)
	assert.Equal(t, summary, snap.LastRun)

	// The next success clears the error again.
	require.True(t, state.BeginCycle())
	state.EndCycle(&RunSummary{Trigger: "loop"}, nil)
	assert.Empty(t, state.Snapshot().LastError)
}
