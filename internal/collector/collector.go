// Package collector walks the report listing and incremental feed, then
// enriches each collected item with its detail record.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iceout-archive/report-listener/internal/clock"
	"github.com/iceout-archive/report-listener/internal/report"
)

// maxStalePages is how many consecutive listing pages may contribute zero
// new-and-in-window rows before the walk stops.
const maxStalePages = 2

// AppClient is the slice of the application client the collector needs.
type AppClient interface {
	FetchFeed(ctx context.Context, since time.Time) []any
	FetchListingPage(ctx context.Context, pageRef string) ([]any, string, error)
	FetchDetail(ctx context.Context, id string, lookbackStart, now time.Time) map[string]any
}

// Config bounds a single collection walk.
type Config struct {
	PageSize          int
	MaxPages          int
	DetailConcurrency int
}

// Collector gathers one batch of report rows per cycle.
type Collector struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Collector.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) *Collector {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 6
	}
	return &Collector{cfg: cfg, clock: clk, logger: logger}
}

type summaryEntry struct {
	createdAt time.Time
	summary   map[string]any
}

// Collect paginates the listing from page 1, merges the incremental feed
// items, fetches details in bounded concurrent chunks, and returns the
// normalized batch sorted newest-first. A failed listing page fails the
// cycle; feed and detail failures degrade gracefully.
func (c *Collector) Collect(ctx context.Context, client AppClient, lookbackStart, since time.Time) (report.Batch, error) {
	now := c.clock.Now()
	feedItems := client.FetchFeed(ctx, since)

	summaries := make(map[string]summaryEntry)
	var order []string

	// upsert keeps the most recent summary per id and reports whether the
	// item counted as new-and-in-window for stale-page tracking. Items with
	// an unresolvable creation time fall back to now and stay in-window.
	upsert := func(item any) bool {
		id, createdAt, summary, ok := report.SummaryKey(item, now)
		if !ok {
			return false
		}
		if createdAt.Before(lookbackStart) {
			return false
		}
		existing, seen := summaries[id]
		if !seen {
			order = append(order, id)
			summaries[id] = summaryEntry{createdAt: createdAt, summary: summary}
		} else if !createdAt.Before(existing.createdAt) {
			summaries[id] = summaryEntry{createdAt: createdAt, summary: summary}
		}
		return true
	}

	pageRef := fmt.Sprintf("/api/reports/?archived=False&page=1&page_size=%d", c.cfg.PageSize)
	pagesFetched := 0
	stalePages := 0

	for pageRef != "" && pagesFetched < c.cfg.MaxPages {
		pagesFetched++
		items, next, err := client.FetchListingPage(ctx, pageRef)
		if err != nil {
			return report.Batch{}, fmt.Errorf("listing page %d: %w", pagesFetched, err)
		}

		pageAddedRows := false
		for _, item := range items {
			if upsert(item) {
				pageAddedRows = true
			}
		}
		if pageAddedRows {
			stalePages = 0
		} else {
			stalePages++
		}
		if stalePages >= maxStalePages {
			break
		}
		pageRef = next
	}

	for _, item := range feedItems {
		upsert(item)
	}

	details, detailFailures := c.fetchDetails(ctx, client, order, lookbackStart, now)

	rows := make([]report.Row, 0, len(order))
	for _, id := range order {
		entry := summaries[id]
		rows = append(rows, report.Normalize(id, entry.summary, details[id], entry.createdAt))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SourceCreatedAt.After(rows[j].SourceCreatedAt)
	})

	batch := report.Batch{
		Rows:           rows,
		PagesFetched:   pagesFetched,
		DetailFailures: detailFailures,
	}
	if len(rows) > 0 {
		newest := rows[0].SourceCreatedAt
		oldest := rows[len(rows)-1].SourceCreatedAt
		batch.NewestCreatedAt = &newest
		batch.OldestCreatedAt = &oldest
	}

	c.logger.Info("collection complete",
		zap.Int("pages_fetched", pagesFetched),
		zap.Int("rows", len(rows)),
		zap.Int("feed_items", len(feedItems)),
		zap.Int("detail_failures", detailFailures),
	)
	return batch, nil
}

// fetchDetails resolves detail records in fixed-size concurrent chunks,
// waiting for each chunk before dispatching the next. The bound exists to
// avoid overwhelming the remote service, not for throughput.
func (c *Collector) fetchDetails(
	ctx context.Context,
	client AppClient,
	ids []string,
	lookbackStart, now time.Time,
) (map[string]map[string]any, int) {
	details := make(map[string]map[string]any, len(ids))
	failures := 0

	for start := 0; start < len(ids); start += c.cfg.DetailConcurrency {
		chunk := ids[start:min(start+c.cfg.DetailConcurrency, len(ids))]
		results := make([]map[string]any, len(chunk))

		var wg sync.WaitGroup
		for i, id := range chunk {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				results[i] = client.FetchDetail(ctx, id, lookbackStart, now)
			}(i, id)
		}
		wg.Wait()

		for i, id := range chunk {
			if results[i] == nil {
				failures++
				continue
			}
			details[id] = results[i]
		}
	}
	return details, failures
}
