package geo

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp converts any timestamp representation found in exports to
// a UTC instant. Strings are parsed as ISO-8601; integers (and strings of
// digits) are treated as epoch milliseconds when they have 13 digits and
// epoch seconds when they have 10.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if isDigits(s) {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return epoch(n)
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, false
		}
		return epoch(int64(t))
	case int64:
		return epoch(t)
	case int:
		return epoch(int64(t))
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return epoch(n)
	}
	return time.Time{}, false
}

func epoch(n int64) (time.Time, bool) {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch len(strconv.FormatInt(abs, 10)) {
	case 13:
		return time.UnixMilli(n).UTC(), true
	case 10:
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

func isDigits(s string) bool {
	for i, r := range s {
		if r == '-' && i == 0 && len(s) > 1 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseOffsetMinutes reads a path point's durationMinutesOffsetFromStartTime.
// Missing or unparseable offsets count as zero.
func ParseOffsetMinutes(v any) int {
	switch t := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return n
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	}
	return 0
}

// PointTimestamp returns the absolute time of a path point given the
// owning path's start time and its minute offset.
func PointTimestamp(start time.Time, offset any) time.Time {
	return start.Add(time.Duration(ParseOffsetMinutes(offset)) * time.Minute)
}
