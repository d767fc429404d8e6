package strava

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Activity is a Strava activity as returned by the API. Fields are passed
// through to the database untouched, numbers are kept as json.Number.
type Activity map[string]any

// ActivitySummary is the part of an activity needed to fetch its GPX track
type ActivitySummary struct {
	ID             int64
	Name           string
	StartDateLocal string
}

// ID returns the activity id
func (a Activity) ID() (int64, error) {
	raw, ok := a["id"]
	if !ok || raw == nil {
		return 0, fmt.Errorf("activity has no id")
	}

	switch v := raw.(type) {
	case json.Number:
		id, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid activity id %q: %w", v, err)
		}
		return id, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("invalid activity id %v", v)
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid activity id %q: %w", v, err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unexpected activity id type %T", raw)
	}
}

// StartDate returns the UTC start time of the activity
func (a Activity) StartDate() (time.Time, bool) {
	s, ok := a["start_date"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseTimestamp parses a Strava timestamp. start_date values carry a
// trailing Z, values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if len(s) >= 19 {
		if t, err := time.Parse("2006-01-02T15:04:05", s[:19]); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02 15:04:05", s[:19]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
