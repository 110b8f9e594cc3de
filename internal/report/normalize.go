package report

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Normalize merges a summary record and an optional detail record into one
// Row. Every scalar resolves detail-then-summary-then-nil, every list
// defaults to empty, and SourceCreatedAt falls back to fallbackCreatedAt
// (the summary-derived value computed at collection time). The function
// performs no I/O and does not mutate its inputs.
func Normalize(sourceID string, summary, detail map[string]any, fallbackCreatedAt time.Time) Row {
	primary := summary
	rawDetail := summary
	if detail != nil {
		primary = detail
		rawDetail = detail
	}

	lon, lat := parseCoordinates(primary, summary)

	activityTags := pickArray(
		primary["activity_tag_enums"], primary["activity_tags_enums"],
		summary["activity_tag_enums"], summary["activity_tags_enums"],
	)
	enforcementTags := pickArray(
		primary["enforcement_tag_enums"], primary["enforcement_tags_enums"],
		summary["enforcement_tag_enums"], summary["enforcement_tags_enums"],
	)
	categoryTags := pickArray(primary["category_enums"], summary["category_enums"])
	if len(categoryTags) == 0 {
		if categoryEnum := pickNumber(
			primary["category_enum"], primary["display_category_enum"],
			summary["category_enum"], summary["display_category_enum"],
		); categoryEnum != nil {
			categoryTags = []any{*categoryEnum}
		}
	}

	media := pickArray(primary["media"], summary["media"])
	comments := pickArray(primary["comments"], summary["comments"])
	vehicleReports := pickArray(primary["vehicle_reports"], summary["vehicle_reports"])

	createdAt := fallbackCreatedAt
	if t := firstTime(primary["created_at"], primary["timestamp"], primary["createdAt"]); t != nil {
		createdAt = *t
	}

	return Row{
		SourceID:            sourceID,
		SourceCreatedAt:     createdAt,
		IncidentTime:        firstTime(primary["incident_time"], summary["incident_time"]),
		Approved:            pickBool(primary["approved"], summary["approved"]),
		Archived:            pickBool(primary["archived"], summary["archived"]),
		ReportType:          pickText(primary["report_type"], primary["type"], summary["report_type"], summary["type"]),
		LocationDescription: pickText(primary["location_description"], primary["address"], summary["location_description"], summary["address"]),
		ActivityDescription: pickText(primary["activity_description"], summary["activity_description"]),
		ClothingDescription: pickText(primary["clothing_description"], summary["clothing_description"]),
		SourceLink:          pickText(primary["source_link"], summary["source_link"]),
		SubmittedBy:         pickText(primary["submitted_by"], summary["submitted_by"]),
		SmallThumbnail:      pickText(primary["small_thumbnail"], summary["small_thumbnail"]),
		NumOfficials:        pickInt(primary["num_officials"], summary["num_officials"]),
		NumVehicles:         pickInt(primary["num_vehicles"], summary["num_vehicles"]),
		MediaCount:          len(media),
		CommentCount:        len(comments),
		ActivityTags:        activityTags,
		EnforcementTags:     enforcementTags,
		CategoryTags:        categoryTags,
		Media:               media,
		Comments:            comments,
		VehicleReports:      vehicleReports,
		Lon:                 lon,
		Lat:                 lat,
		RawSummary:          summary,
		RawDetail:           rawDetail,
	}
}

// SummaryKey resolves the natural key of a raw listing or feed item. The id
// comes from id/_id/uuid; an item without any of them is unusable. The
// creation time falls back to now when the item carries no parseable
// timestamp, so such items are never dropped for lack of one.
func SummaryKey(item any, now time.Time) (string, time.Time, map[string]any, bool) {
	summary, ok := AsMap(item)
	if !ok {
		return "", time.Time{}, nil, false
	}

	var id string
	for _, key := range []string{"id", "_id", "uuid"} {
		if v, present := summary[key]; present && v != nil {
			id = stringify(v)
			break
		}
	}
	if id == "" {
		return "", time.Time{}, nil, false
	}

	createdAt := now
	if t := firstTime(summary["created_at"], summary["timestamp"], summary["createdAt"], summary["incident_time"]); t != nil {
		createdAt = *t
	}
	return id, createdAt, summary, true
}

// AsMap coerces a decoded payload entry to a string-keyed map. Msgpack
// decoding may produce interface-keyed maps, which are converted.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func pickText(values ...any) *string {
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out := s
			return &out
		}
	}
	return nil
}

func pickBool(values ...any) *bool {
	for _, v := range values {
		if b, ok := v.(bool); ok {
			out := b
			return &out
		}
	}
	return nil
}

func pickNumber(values ...any) *float64 {
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			out := f
			return &out
		}
	}
	return nil
}

func pickInt(values ...any) *int {
	if f := pickNumber(values...); f != nil {
		out := int(*f)
		return &out
	}
	return nil
}

func pickArray(values ...any) []any {
	for _, v := range values {
		if arr, ok := v.([]any); ok {
			return arr
		}
	}
	return []any{}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an upstream timestamp value, returning nil when the
// value is absent or unparseable.
func ParseTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			out := t.UTC()
			return &out
		}
	}
	return nil
}

func firstTime(values ...any) *time.Time {
	for _, v := range values {
		if t := ParseTime(v); t != nil {
			return t
		}
	}
	return nil
}

// parseCoordinates extracts a lon/lat pair from the first record exposing
// one, checking location.coordinates, then location_coordinates, then
// coordinates. Lon is index 0 and lat index 1.
func parseCoordinates(records ...map[string]any) (*float64, *float64) {
	for _, record := range records {
		if record == nil {
			continue
		}
		var coords any
		if loc, ok := AsMap(record["location"]); ok {
			coords = loc["coordinates"]
		}
		if coords == nil {
			coords = record["location_coordinates"]
		}
		if coords == nil {
			coords = record["coordinates"]
		}
		arr, ok := coords.([]any)
		if !ok || len(arr) < 2 {
			continue
		}
		var lon, lat *float64
		if f, ok := toFloat(arr[0]); ok {
			lon = &f
		}
		if f, ok := toFloat(arr[1]); ok {
			lat = &f
		}
		return lon, lat
	}
	return nil, nil
}
