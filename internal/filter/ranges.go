package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"appdate/internal/model"
)

// RangeKind names the overview ranges.
type RangeKind string

const (
	RangeWeek   RangeKind = "week"
	RangeMonth  RangeKind = "month"
	RangeYear   RangeKind = "year"
	RangeCustom RangeKind = "custom"
)

var ErrCustomRange = errors.New("custom range needs explicit dates")

// ParseRangeKind validates an overview range name.
func ParseRangeKind(s string) (RangeKind, error) {
	switch k := RangeKind(strings.ToLower(strings.TrimSpace(s))); k {
	case RangeWeek, RangeMonth, RangeYear, RangeCustom:
		return k, nil
	default:
		return "", fmt.Errorf("unknown range %q", s)
	}
}

// RangeFor returns the current week, month or year around now. Weeks start
// on weekStart. RangeCustom returns ErrCustomRange; use CustomRange.
func RangeFor(kind RangeKind, now time.Time, weekStart time.Weekday) (Range, error) {
	y, m, d := now.Date()
	loc := now.Location()

	switch kind {
	case RangeWeek:
		offset := (int(now.Weekday()) - int(weekStart) + 7) % 7
		first := time.Date(y, m, d-offset, 12, 0, 0, 0, loc)
		return Range{From: model.DateOf(first), To: model.DateOf(first.AddDate(0, 0, 6))}, nil
	case RangeMonth:
		first := time.Date(y, m, 1, 12, 0, 0, 0, loc)
		last := time.Date(y, m+1, 0, 12, 0, 0, 0, loc)
		return Range{From: model.DateOf(first), To: model.DateOf(last)}, nil
	case RangeYear:
		return Range{From: fmt.Sprintf("%04d-01-01", y), To: fmt.Sprintf("%04d-12-31", y)}, nil
	case RangeCustom:
		return Range{}, ErrCustomRange
	default:
		return Range{}, fmt.Errorf("unknown range %q", kind)
	}
}

// CustomRange validates caller supplied YYYY-MM-DD bounds. Either may be
// empty; both are swapped if given in reverse.
func CustomRange(from, to string) (Range, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	for _, s := range []string{from, to} {
		if s == "" {
			continue
		}
		if _, err := time.Parse(model.LayoutDate, s); err != nil {
			return Range{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
	}
	if from != "" && to != "" && from > to {
		from, to = to, from
	}
	return Range{From: from, To: to}, nil
}

// ParseWeekday accepts "monday" and "sunday" and defaults to Monday.
func ParseWeekday(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}
