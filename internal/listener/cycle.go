package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/appclient"
	"github.com/iceout-archive/report-listener/internal/browser"
	"github.com/iceout-archive/report-listener/internal/clock"
	"github.com/iceout-archive/report-listener/internal/collector"
	"github.com/iceout-archive/report-listener/internal/cursor"
	"github.com/iceout-archive/report-listener/internal/store"
)

// CycleConfig carries the per-cycle scrape parameters.
type CycleConfig struct {
	TargetURL    string
	LookbackDays int
}

// Cycle is the production CycleRunner: one pass of connect → collect →
// persist → advance cursor. The browser session is reused across cycles
// and torn down whenever a cycle fails, so the next attempt starts clean.
type Cycle struct {
	cfg       CycleConfig
	browser   *browser.Manager
	collector *collector.Collector
	store     *store.Store
	cursor    *cursor.Tracker
	clock     clock.Clock
	logger    *zap.Logger
}

// NewCycle wires the production cycle runner.
func NewCycle(
	cfg CycleConfig,
	mgr *browser.Manager,
	col *collector.Collector,
	st *store.Store,
	cur *cursor.Tracker,
	clk clock.Clock,
	logger *zap.Logger,
) *Cycle {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{
		cfg:       cfg,
		browser:   mgr,
		collector: col,
		store:     st,
		cursor:    cur,
		clock:     clk,
		logger:    logger,
	}
}

// RunCycle executes one scrape cycle. Any stage failure closes the browser
// session before the error propagates.
func (c *Cycle) RunCycle(ctx context.Context, trigger Trigger) (RunSummary, error) {
	summary, err := c.run(ctx, trigger)
	if err != nil {
		c.browser.Close()
		return RunSummary{}, err
	}
	return summary, nil
}

func (c *Cycle) run(ctx context.Context, trigger Trigger) (RunSummary, error) {
	now := c.clock.Now()
	lookbackStart := now.AddDate(0, 0, -c.cfg.LookbackDays)
	since := c.cursor.Effective(lookbackStart)

	c.logger.Info("cycle starting",
		zap.String("trigger", string(trigger)),
		zap.Time("lookback_start", lookbackStart),
		zap.Time("since", since),
	)

	session, err := c.browser.EnsureConnected(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("connect browser: %w", err)
	}
	cookies, err := session.Cookies(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("read session cookies: %w", err)
	}
	client, err := appclient.New(c.cfg.TargetURL, cookies, browser.UserAgent, c.logger)
	if err != nil {
		return RunSummary{}, fmt.Errorf("build app client: %w", err)
	}

	batch, err := c.collector.Collect(ctx, client, lookbackStart, since)
	if err != nil {
		return RunSummary{}, fmt.Errorf("collect: %w", err)
	}

	result, err := c.store.Persist(ctx, batch.Rows)
	if err != nil {
		return RunSummary{}, fmt.Errorf("persist: %w", err)
	}

	advanced := c.cursor.Advance(batch.Rows, since)
	return RunSummary{
		Trigger:        string(trigger),
		At:             c.clock.Now(),
		PagesFetched:   batch.PagesFetched,
		ScrapedRows:    len(batch.Rows),
		UpsertedRows:   result.UpsertedRows,
		GeoRows:        result.GeoRows,
		LookbackStart:  lookbackStart,
		Cursor:         &advanced,
		DetailFailures: batch.DetailFailures,
	}, nil
}
