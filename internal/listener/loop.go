package listener

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/clock"
	"github.com/iceout-archive/report-listener/internal/metrics"
)

// CycleRunner executes one full scrape cycle: connect, fetch, persist.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger Trigger) (RunSummary, error)
}

// CycleOutcome is the loop's verdict on one cycle.
type CycleOutcome struct {
	Trigger Trigger
	Err     error
}

// Succeeded reports whether the cycle completed without error.
func (o CycleOutcome) Succeeded() bool {
	return o.Err == nil
}

func (o CycleOutcome) label() string {
	if o.Err == nil {
		return "succeeded"
	}
	return "failed"
}

// LoopConfig bounds the loop's timing.
type LoopConfig struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	RunOnce      bool
}

// Loop drives scrape cycles until shutdown: poll-interval pacing after a
// success, doubling backoff after a failure, a single cycle in run-once
// mode.
type Loop struct {
	cfg    LoopConfig
	runner CycleRunner
	state  *State
	clock  clock.Clock
	logger *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLoop creates a Loop around the given cycle runner and shared state.
func NewLoop(cfg LoopConfig, runner CycleRunner, state *State, clk clock.Clock, logger *zap.Logger) *Loop {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:    cfg,
		runner: runner,
		state:  state,
		clock:  clk,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Run executes cycles until the context is canceled or, in run-once mode,
// after the first cycle settles. Cycles are triggered "startup" until one
// has succeeded, "loop" from then on, so failed startup retries keep the
// startup label.
func (l *Loop) Run(ctx context.Context) {
	backoff := l.cfg.BackoffBase

	for {
		trigger := TriggerLoop
		if l.state.Snapshot().LastRun == nil {
			trigger = TriggerStartup
		}
		outcome := l.runCycle(ctx, trigger)

		if l.cfg.RunOnce {
			l.logger.Info("run-once mode, loop ending", zap.Bool("succeeded", outcome.Succeeded()))
			return
		}
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		if outcome.Succeeded() {
			backoff = l.cfg.BackoffBase
			wait = l.cfg.PollInterval
		} else {
			wait = minDuration(backoff, l.cfg.BackoffMax)
			backoff = minDuration(backoff*2, l.cfg.BackoffMax)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return
		}
	}
}

// TriggerManual runs one "manual" cycle synchronously. It is a no-op while
// a cycle is already running or shutdown has begun.
func (l *Loop) TriggerManual(ctx context.Context) {
	outcome := l.runCycle(ctx, TriggerManual)
	if outcome.Err != nil {
		l.logger.Warn("manual cycle failed", zap.Error(outcome.Err))
	}
}

func (l *Loop) runCycle(ctx context.Context, trigger Trigger) CycleOutcome {
	if !l.state.BeginCycle() {
		l.logger.Debug("cycle skipped, already running or shutting down",
			zap.String("trigger", string(trigger)))
		return CycleOutcome{Trigger: trigger}
	}

	started := l.clock.Now()
	summary, err := l.runner.RunCycle(ctx, trigger)
	duration := l.clock.Now().Sub(started)

	outcome := CycleOutcome{Trigger: trigger, Err: err}
	metrics.ObserveCycle(string(trigger), outcome.label(), duration)

	if err != nil {
		l.state.EndCycle(nil, err)
		l.logger.Error("cycle failed",
			zap.String("trigger", string(trigger)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return outcome
	}

	l.state.EndCycle(&summary, nil)
	metrics.ObserveBatch(summary.PagesFetched, summary.ScrapedRows, summary.UpsertedRows, summary.GeoRows)
	metrics.ObserveDetailFailures(summary.DetailFailures)
	l.logger.Info("cycle complete",
		zap.String("trigger", string(trigger)),
		zap.Duration("duration", duration),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("scraped_rows", summary.ScrapedRows),
		zap.Int("upserted_rows", summary.UpsertedRows),
		zap.Int("geo_rows", summary.GeoRows),
	)
	return outcome
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
