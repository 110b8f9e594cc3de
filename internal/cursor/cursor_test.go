package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceout-archive/report-listener/internal/report"
)

func day(offset int) time.Time {
	base := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, offset)
}

func rowsAt(times ...time.Time) []report.Row {
	rows := make([]report.Row, 0, len(times))
	for _, ts := range times {
		rows = append(rows, report.Row{SourceCreatedAt: ts})
	}
	return rows
}

func TestEffectiveUnsetReturnsLookbackStart(t *testing.T) {
	t.Parallel()

	tr := New()
	lookbackStart := day(-7)
	assert.Equal(t, lookbackStart, tr.Effective(lookbackStart))
	assert.Nil(t, tr.Current())
}

func TestEffectiveClampsStaleCursor(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Advance(rowsAt(day(-10)), day(-10))
	assert.Equal(t, day(-7), tr.Effective(day(-7)))

	tr.Advance(rowsAt(day(-1)), day(-7))
	assert.Equal(t, day(-1), tr.Effective(day(-7)))
}

func TestAdvancePicksNewestRow(t *testing.T) {
	t.Parallel()

	tr := New()
	got := tr.Advance(rowsAt(day(-6), day(-3), day(-1)), day(-7))
	assert.Equal(t, day(-1), got)

	cur := tr.Current()
	require.NotNil(t, cur)
	assert.Equal(t, day(-1), *cur)
}

func TestAdvanceEmptyBatchUsesFallback(t *testing.T) {
	t.Parallel()

	tr := New()
	got := tr.Advance(nil, day(-7))
	assert.Equal(t, day(-7), got)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Advance(rowsAt(day(-1)), day(-7))

	// A later cycle observing only older rows must not move the cursor back.
	got := tr.Advance(rowsAt(day(-5)), day(-6))
	assert.Equal(t, day(-1), got)
}
