package model

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// PlaceholderTitle is shown for events stored without a title.
const PlaceholderTitle = "Termin"

var (
	ErrMissingTitle = errors.New("event has no title")
	ErrMissingStart = errors.New("event has no start")
)

// Event is a persisted series definition as stored in one of the two
// collections. A non-recurring event is a series of one.
type Event struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`

	// Start / End carry a wall-clock date and time. End may be zero, which
	// means the event has no duration.
	Start Timestamp `json:"start"`
	End   Timestamp `json:"end"`

	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`

	AllDay bool   `json:"isAllDay"`
	Source Source `json:"source"`

	Recurrence         Recurrence `json:"recurrence"`
	RecurrenceInterval int        `json:"recurrenceInterval,omitempty"`
	// RecurrenceEnd is a YYYY-MM-DD date; empty means open-ended.
	RecurrenceEnd string `json:"recurrenceEnd,omitempty"`
	// ExcludedDates holds YYYY-MM-DD dates removed from the series.
	ExcludedDates []string `json:"excludedDates,omitempty"`

	// ExternalID is the identifier reported by the synchronisation source.
	ExternalID string `json:"externalId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayTitle returns the title, or the placeholder if none is set.
func (e Event) DisplayTitle() string {
	if strings.TrimSpace(e.Title) == "" {
		return PlaceholderTitle
	}
	return e.Title
}

// Interval returns the recurrence interval, treating values below 1 as 1.
func (e Event) Interval() int {
	if e.RecurrenceInterval < 1 {
		return 1
	}
	return e.RecurrenceInterval
}

// IsExcluded reports whether date (YYYY-MM-DD) was removed from the series.
func (e Event) IsExcluded(date string) bool {
	return slices.Contains(e.ExcludedDates, date)
}

// Excluding returns a copy of e with date added to ExcludedDates.
func (e Event) Excluding(date string) Event {
	out := e
	out.ExcludedDates = slices.Clone(e.ExcludedDates)
	if !out.IsExcluded(date) {
		out.ExcludedDates = append(out.ExcludedDates, date)
	}
	return out
}

// Validate checks the fields required to display the event.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrMissingTitle
	}
	if e.Start.IsZero() {
		return ErrMissingStart
	}
	return nil
}

// Collection returns the store collection the event lives in.
func (e Event) Collection() Collection {
	return e.Source.Collection()
}

// MergeKey identifies an occurrence for cross-source de-duplication.
type MergeKey struct {
	Date  string
	Title string
}

// Occurrence is one concrete instance of an Event. Occurrences are derived
// on every snapshot and never stored.
type Occurrence struct {
	EventID string
	Source  Source

	Title       string
	Description string
	Location    string

	AllDay     bool
	Recurrence Recurrence

	// Generated is false for the literal first occurrence of a series.
	Generated bool

	Start time.Time
	End   time.Time
}

// Date returns the YYYY-MM-DD date of the occurrence start.
func (o Occurrence) Date() string {
	return DateOf(o.Start)
}

// Key returns the (date, title) merge key.
func (o Occurrence) Key() MergeKey {
	return MergeKey{Date: o.Date(), Title: o.Title}
}

// DisplayTitle returns the title, or the placeholder if none is set.
func (o Occurrence) DisplayTitle() string {
	if strings.TrimSpace(o.Title) == "" {
		return PlaceholderTitle
	}
	return o.Title
}

// Snapshot is the latest known content of both collections.
type Snapshot struct {
	Manual []Event
	Synced []Event
}

// Events returns the events of one collection.
func (s Snapshot) Events(c Collection) []Event {
	if c == CollectionSynced {
		return s.Synced
	}
	return s.Manual
}

// Find scans both collections for id, manual first.
func (s Snapshot) Find(id string) (Event, Collection, bool) {
	for _, c := range Collections {
		for _, ev := range s.Events(c) {
			if ev.ID == id {
				return ev, c, true
			}
		}
	}
	return Event{}, "", false
}

// Len returns the number of raw events across both collections.
func (s Snapshot) Len() int {
	return len(s.Manual) + len(s.Synced)
}
