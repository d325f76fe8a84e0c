package geo

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidRange is returned when a date range ends before it starts.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange is a half-open UTC interval [From, End). End is the midnight
// following the last requested day, so a range built from "2024-01-01" to
// "2024-12-31" contains every instant of 2024-12-31.
type DateRange struct {
	From time.Time
	End  time.Time
}

// ParseDateRange builds a range from two inclusive YYYY-MM-DD dates.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse from date %q: %w", from, err)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse to date %q: %w", to, err)
	}
	if t.Before(f) {
		return DateRange{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to, from)
	}
	return DateRange{From: f.UTC(), End: t.UTC().AddDate(0, 0, 1)}, nil
}

// Unbounded returns a range that accepts every representable export timestamp.
func Unbounded() DateRange {
	return DateRange{
		From: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
		End:  time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Contains reports whether From <= t < End.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.End)
}

// Last returns the last calendar day included in the range.
func (r DateRange) Last() time.Time {
	return r.End.AddDate(0, 0, -1)
}

// YearInRange checks the leading four characters of an ISO timestamp
// against the range's years. Strings that do not start with a year are
// reported as in range so the full parse gets to decide.
func (r DateRange) YearInRange(ts string) bool {
	if len(ts) < 5 || ts[4] != '-' {
		return true
	}
	year, err := strconv.Atoi(ts[:4])
	if err != nil {
		return true
	}
	return year >= r.From.Year() && year <= r.Last().Year()
}

func (r DateRange) String() string {
	return r.From.Format(time.DateOnly) + ".." + r.Last().Format(time.DateOnly)
}
