// Package cursor tracks the high-water mark of last-seen incident time.
package cursor

import (
	"sync"
	"time"

	"github.com/iceout-archive/report-listener/internal/report"
)

// Tracker holds the process-wide scrape cursor. It is written only at the
// end of a successful cycle and read concurrently by the health server, so
// all access goes through the mutex.
type Tracker struct {
	mu     sync.Mutex
	cursor time.Time
	set    bool
}

// New creates an unset Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Effective returns the cursor to scrape from: the lookback start when no
// cursor is set yet or the stored cursor predates the lookback window,
// otherwise the stored cursor.
func (t *Tracker) Effective(lookbackStart time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set || t.cursor.Before(lookbackStart) {
		return lookbackStart
	}
	return t.cursor
}

// Advance moves the cursor to the maximum SourceCreatedAt across the batch,
// or the fallback when the batch is empty or no row exceeds it. The cursor
// never moves backward, even if a later cycle observes an older maximum.
func (t *Tracker) Advance(rows []report.Row, fallback time.Time) time.Time {
	newest := fallback
	for _, row := range rows {
		if row.SourceCreatedAt.After(newest) {
			newest = row.SourceCreatedAt
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set || newest.After(t.cursor) {
		t.cursor = newest
		t.set = true
	}
	return t.cursor
}

// Current returns the stored cursor, or nil when no cycle has set it yet.
func (t *Tracker) Current() *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		return nil
	}
	out := t.cursor
	return &out
}
