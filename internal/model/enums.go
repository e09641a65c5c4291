package model

import (
	"fmt"
	"strings"
)

// Source records where an event came from.
type Source string

const (
	SourceManual   Source = "manual"
	SourceImported Source = "imported"
	SourceSynced   Source = "synced"
)

// ParseSource maps stored source strings, including the legacy "app" and
// "exchange" values, to a Source. Unknown or empty values are manual.
func ParseSource(s string) Source {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "imported":
		return SourceImported
	case "synced", "exchange":
		return SourceSynced
	default:
		return SourceManual
	}
}

func (s *Source) UnmarshalText(b []byte) error {
	*s = ParseSource(string(b))
	return nil
}

// Collection returns the store collection owning events of this source.
// Imported events live next to manual ones.
func (s Source) Collection() Collection {
	if s == SourceSynced {
		return CollectionSynced
	}
	return CollectionManual
}

// Collection names one of the two independently updated event collections.
type Collection string

const (
	CollectionManual Collection = "manual_events"
	CollectionSynced Collection = "synced_events"
)

// Collections lists both collections in reconciliation order.
var Collections = []Collection{CollectionManual, CollectionSynced}

// Recurrence is the unit a series repeats in.
type Recurrence uint8

const (
	RecurrenceNone Recurrence = iota
	RecurrenceDaily
	RecurrenceWeekly
	RecurrenceMonthly
	RecurrenceYearly
)

var recurrenceNames = [...]string{
	RecurrenceNone:    "none",
	RecurrenceDaily:   "daily",
	RecurrenceWeekly:  "weekly",
	RecurrenceMonthly: "monthly",
	RecurrenceYearly:  "yearly",
}

func (r Recurrence) String() string {
	if int(r) < len(recurrenceNames) {
		return recurrenceNames[r]
	}
	return fmt.Sprintf("Recurrence(%d)", uint8(r))
}

// Recurring reports whether r is one of the repeating units.
func (r Recurrence) Recurring() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	default:
		return false
	}
}

// ParseRecurrence accepts the unit names case-insensitively; empty means none.
func ParseRecurrence(s string) (Recurrence, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RecurrenceNone, nil
	}
	for i, name := range recurrenceNames {
		if name == s {
			return Recurrence(i), nil
		}
	}
	return RecurrenceNone, fmt.Errorf("unknown recurrence %q", s)
}

func (r Recurrence) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText is permissive: an unknown unit decodes as none so a single
// bad record never breaks a whole snapshot.
func (r *Recurrence) UnmarshalText(b []byte) error {
	v, _ := ParseRecurrence(string(b))
	*r = v
	return nil
}
