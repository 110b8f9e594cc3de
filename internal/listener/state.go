// Package listener runs the scrape control loop and tracks its observable
// state for the health surface.
package listener

import (
	"sync"
	"time"
)

// Trigger labels what started a cycle.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerLoop    Trigger = "loop"
	TriggerManual  Trigger = "manual"
)

// RunSummary describes the last completed successful cycle. It is exposed
// verbatim in the health response.
type RunSummary struct {
	Trigger       string     `json:"trigger"`
	At            time.Time  `json:"at"`
	PagesFetched  int        `json:"pagesFetched"`
	ScrapedRows   int        `json:"scrapedRows"`
	UpsertedRows  int        `json:"upsertedRows"`
	GeoRows       int        `json:"geoRows"`
	LookbackStart time.Time  `json:"lookbackStartIso"`
	Cursor        *time.Time `json:"cursorIso"`

	DetailFailures int `json:"-"`
}

// Snapshot is a point-in-time copy of the listener state, safe to read
// without further locking.
type Snapshot struct {
	Running      bool
	ShuttingDown bool
	LastError    string
	LastRun      *RunSummary
	Cursor       *time.Time
}

// State is the mutex-guarded listener state. The loop is the single writer
// of run outcomes; the health server and the manual trigger read it
// concurrently.
type State struct {
	mu           sync.Mutex
	running      bool
	shuttingDown bool
	lastError    string
	lastRun      *RunSummary
	cursor       *time.Time
}

// NewState creates an empty State.
func NewState() *State {
	return &State{}
}

// BeginCycle marks a cycle as running. It reports false, without changing
// anything, when a cycle is already in flight or shutdown has begun; the
// running flag is the only guard against overlapping cycles.
func (s *State) BeginCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.shuttingDown {
		return false
	}
	s.running = true
	return true
}

// EndCycle records a cycle outcome. A successful cycle replaces the last
// run summary and clears the last error; a failed one keeps the previous
// summary and records the error.
func (s *State) EndCycle(summary *RunSummary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if err != nil {
		s.lastError = err.Error()
		return
	}
	s.lastError = ""
	if summary != nil {
		s.lastRun = summary
		s.cursor = summary.Cursor
	}
}

// BeginShutdown blocks all future cycles. It is never unset.
func (s *State) BeginShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuttingDown = true
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:      s.running,
		ShuttingDown: s.shuttingDown,
		LastError:    s.lastError,
		LastRun:      s.lastRun,
		Cursor:       s.cursor,
	}
}
