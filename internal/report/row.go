// Package report holds the normalized incident report model and the pure
// transformations that build it from raw upstream payloads.
package report

import (
	"math"
	"time"
)

// Row is one normalized incident observation. Its natural key is
// (SourceID, SourceCreatedAt); everything else is best-effort data merged
// from a listing summary and an optional detail record.
type Row struct {
	SourceID        string
	SourceCreatedAt time.Time

	IncidentTime *time.Time
	Approved     *bool
	Archived     *bool

	ReportType          *string
	LocationDescription *string
	ActivityDescription *string
	ClothingDescription *string
	SourceLink          *string
	SubmittedBy         *string
	SmallThumbnail      *string

	NumOfficials *int
	NumVehicles  *int

	// MediaCount and CommentCount are always derived from the list lengths,
	// never taken from upstream count fields.
	MediaCount   int
	CommentCount int

	ActivityTags    []any
	EnforcementTags []any
	CategoryTags    []any
	Media           []any
	Comments        []any
	VehicleReports  []any

	Lon *float64
	Lat *float64

	// Raw payloads are retained verbatim for forward compatibility.
	RawSummary map[string]any
	RawDetail  map[string]any
}

// HasGeo reports whether the row carries a usable coordinate pair.
func (r Row) HasGeo() bool {
	return isFinite(r.Lon) && isFinite(r.Lat)
}

func isFinite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Batch is the result of one collection cycle: rows sorted newest-first
// plus observability counters about the walk that produced them.
type Batch struct {
	Rows            []Row
	PagesFetched    int
	DetailFailures  int
	NewestCreatedAt *time.Time
	OldestCreatedAt *time.Time
}
