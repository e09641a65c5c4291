package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// LayoutLocal is the stored form of wall-clock timestamps.
	LayoutLocal = "2006-01-02T15:04:05"
	// LayoutUTC is the stored form of absolute (synced) timestamps.
	LayoutUTC  = "2006-01-02T15:04:05Z"
	LayoutDate = "2006-01-02"
)

// absolute layouts carry their own zone; local layouts are wall clock.
var (
	absoluteLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00"}
	localLayouts    = []string{LayoutLocal, "2006-01-02T15:04", "2006-01-02T15:04:05.999999999", LayoutDate}
)

// Timestamp is a date and time as stored in event records. Values in UTC
// are written with a Z suffix, everything else as wall clock without zone.
type Timestamp struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses a stored timestamp. Strings without zone information
// are interpreted in loc.
func ParseTimestamp(s string, loc *time.Location) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Location() != time.UTC {
				if _, off := t.Zone(); off == 0 {
					t = t.UTC()
				}
			}
			return Timestamp{Time: t}, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// String formats the timestamp in its stored form.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	if t.Location() == time.UTC {
		return t.Format(LayoutUTC)
	}
	return t.Format(LayoutLocal)
}

// Date returns the YYYY-MM-DD part.
func (t Timestamp) Date() string {
	if t.IsZero() {
		return ""
	}
	return DateOf(t.Time)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimestamp(s, time.Local)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// DateOf formats t as YYYY-MM-DD in its own location.
func DateOf(t time.Time) string {
	return t.Format(LayoutDate)
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(LayoutDate, strings.TrimSpace(s), loc)
}
