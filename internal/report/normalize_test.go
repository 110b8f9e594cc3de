package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDetailTakesPrecedence(t *testing.T) {
	t.Parallel()

	fallback := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := map[string]any{
		"report_type":          "sighting",
		"location_description": "corner store",
		"activity_description": "from summary",
	}
	detail := map[string]any{
		"activity_description": "from detail",
		"clothing_description": "dark jacket",
	}

	row := Normalize("r-1", summary, detail, fallback)

	require.NotNil(t, row.ActivityDescription)
	assert.Equal(t, "from detail", *row.ActivityDescription)
	require.NotNil(t, row.ClothingDescription)
	assert.Equal(t, "dark jacket", *row.ClothingDescription)
	// Scalars absent from detail fall through to summary.
	require.NotNil(t, row.ReportType)
	assert.Equal(t, "sighting", *row.ReportType)
	assert.Equal(t, fallback, row.SourceCreatedAt)
	assert.Equal(t, detail, row.RawDetail)
	assert.Equal(t, summary, row.RawSummary)
}

func TestNormalizeCountsDerivedFromLists(t *testing.T) {
	t.Parallel()

	summary := map[string]any{
		"media":         []any{"a", "b", "c"},
		"comments":      []any{"only one"},
		"media_count":   float64(99),
		"comment_count": float64(42),
	}

	row := Normalize("r-2", summary, nil, time.Now().UTC())

	assert.Equal(t, 3, row.MediaCount)
	assert.Equal(t, 1, row.CommentCount)
}

func TestNormalizeListsNeverNil(t *testing.T) {
	t.Parallel()

	row := Normalize("r-3", map[string]any{}, nil, time.Now().UTC())

	assert.NotNil(t, row.ActivityTags)
	assert.NotNil(t, row.EnforcementTags)
	assert.NotNil(t, row.CategoryTags)
	assert.NotNil(t, row.Media)
	assert.NotNil(t, row.Comments)
	assert.NotNil(t, row.VehicleReports)
	assert.Empty(t, row.Media)
}

func TestNormalizeCategoryEnumFallback(t *testing.T) {
	t.Parallel()

	summary := map[string]any{"category_enum": float64(4)}

	row := Normalize("r-4", summary, nil, time.Now().UTC())

	require.Len(t, row.CategoryTags, 1)
	assert.Equal(t, float64(4), row.CategoryTags[0])
}

func TestNormalizeCoordinates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		summary map[string]any
		detail  map[string]any
		wantLon *float64
		wantLat *float64
	}{
		{
			name: "location coordinates on detail preferred",
			summary: map[string]any{
				"location": map[string]any{"coordinates": []any{float64(-100), float64(40)}},
			},
			detail: map[string]any{
				"location": map[string]any{"coordinates": []any{float64(-118.2), float64(34.0)}},
			},
			wantLon: ptr(-118.2),
			wantLat: ptr(34.0),
		},
		{
			name:    "flat coordinates field",
			summary: map[string]any{"coordinates": []any{float64(-73.9), float64(40.7)}},
			wantLon: ptr(-73.9),
			wantLat: ptr(40.7),
		},
		{
			name:    "short array ignored",
			summary: map[string]any{"coordinates": []any{float64(-73.9)}},
		},
		{
			name:    "missing entirely",
			summary: map[string]any{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			row := Normalize("r", tc.summary, tc.detail, time.Now().UTC())
			assert.Equal(t, tc.wantLon, row.Lon)
			assert.Equal(t, tc.wantLat, row.Lat)
		})
	}
}

func TestNormalizeSourceCreatedAtResolution(t *testing.T) {
	t.Parallel()

	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	detail := map[string]any{"created_at": "2026-02-03T04:05:06Z"}

	row := Normalize("r", map[string]any{}, detail, fallback)
	assert.Equal(t, time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), row.SourceCreatedAt)

	row = Normalize("r", map[string]any{}, map[string]any{"created_at": "not a time"}, fallback)
	assert.Equal(t, fallback, row.SourceCreatedAt)
}

func TestHasGeo(t *testing.T) {
	t.Parallel()

	assert.True(t, Row{Lon: ptr(-118.2), Lat: ptr(34.0)}.HasGeo())
	assert.False(t, Row{Lat: ptr(34.0)}.HasGeo())
	assert.False(t, Row{}.HasGeo())
}

func TestSummaryKey(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	id, createdAt, summary, ok := SummaryKey(map[string]any{
		"id":         float64(42),
		"created_at": "2026-04-30T08:00:00Z",
	}, now)
	require.True(t, ok)
	assert.Equal(t, "42", id)
	assert.Equal(t, time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC), createdAt)
	assert.NotNil(t, summary)

	// Missing timestamp falls back to now; item is never dropped for it.
	_, createdAt, _, ok = SummaryKey(map[string]any{"uuid": "abc"}, now)
	require.True(t, ok)
	assert.Equal(t, now, createdAt)

	// Missing id makes the item unusable.
	_, _, _, ok = SummaryKey(map[string]any{"created_at": "2026-04-30T08:00:00Z"}, now)
	assert.False(t, ok)

	// Non-map items are dropped.
	_, _, _, ok = SummaryKey("garbage", now)
	assert.False(t, ok)
}

func ptr[T any](v T) *T {
	return &v
}
