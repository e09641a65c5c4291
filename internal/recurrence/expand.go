// Package recurrence turns a raw event into the concrete occurrences it
// implies.
package recurrence

import (
	"strings"
	"time"

	appLog "appdate/internal/log"
	"appdate/internal/model"
)

const (
	// MaxSteps bounds how many cursor steps a single series may take. It
	// only guarantees termination; callers must not rely on it as a limit.
	MaxSteps = 500

	// DefaultHorizonYears bounds open-ended series relative to now.
	DefaultHorizonYears = 2
)

// Window restricts generation to dates between From and To (inclusive,
// compared by calendar date in the expander's location). Zero bounds are
// open.
type Window struct {
	From time.Time
	To   time.Time
}

// Expander expands raw events into occurrences. The zero value expands in
// time.Local using the wall clock.
type Expander struct {
	// Location is the display timezone all occurrences are produced in.
	Location *time.Location
	// Now anchors the default horizon for open-ended series.
	Now func() time.Time
}

// New returns an Expander producing occurrences in loc.
func New(loc *time.Location) *Expander {
	return &Expander{Location: loc, Now: time.Now}
}

// Series is the result of expanding one event.
type Series struct {
	Occurrences []model.Occurrence
	// Truncated is set when MaxSteps was reached before any other bound.
	Truncated bool
}

// Expand returns the occurrences of ev inside w in chronological order.
func (e *Expander) Expand(ev model.Event, w Window) []model.Occurrence {
	return e.ExpandSeries(ev, w).Occurrences
}

// ExpandSeries is Expand plus truncation information.
//
// A non-recurring event yields exactly one occurrence carrying the raw
// start and end, whatever the window. A recurring event is stepped from its
// start date by Interval units until the cursor passes the recurrence end
// (two years from now when absent or unparseable), passes w.To, or MaxSteps
// steps were taken. Every occurrence keeps the original wall-clock start
// time and day span, so daylight-saving changes between occurrences never
// shift them.
func (e *Expander) ExpandSeries(ev model.Event, w Window) Series {
	loc := e.location()
	start := ev.Start.In(loc)

	if !ev.Recurrence.Recurring() {
		occ := newOccurrence(ev, start, false)
		if !ev.End.IsZero() {
			occ.End = ev.End.In(loc)
		}
		return Series{Occurrences: []model.Occurrence{occ}}
	}

	interval := ev.Interval()
	until := e.until(ev, loc)

	var from, to string
	if !w.From.IsZero() {
		from = model.DateOf(w.From.In(loc))
	}
	if !w.To.IsZero() {
		to = model.DateOf(w.To.In(loc))
	}

	sy, sm, sd := start.Date()
	hour, minute, sec := start.Clock()

	hasEnd := !ev.End.IsZero()
	var span int
	var eh, emin, esec int
	if hasEnd {
		end := ev.End.In(loc)
		span = daysBetween(start, end)
		eh, emin, esec = end.Clock()
	}

	out := make([]model.Occurrence, 0)
	for step := 0; step < MaxSteps; step++ {
		y, m, d := advance(sy, sm, sd, ev.Recurrence, step*interval)
		date := civil(y, m, d)

		if date > until || (to != "" && date > to) {
			return Series{Occurrences: out}
		}
		if ev.IsExcluded(date) || (from != "" && date < from) {
			continue
		}

		occ := newOccurrence(ev, time.Date(y, m, d, hour, minute, sec, 0, loc), step > 0)
		if hasEnd {
			ey, em, ed := advance(y, m, d, model.RecurrenceDaily, span)
			occ.End = time.Date(ey, em, ed, eh, emin, esec, 0, loc)
		}
		out = append(out, occ)
	}

	appLog.Debug("recurrence: step cap reached", "event_id", ev.ID, "title", ev.Title, "cap", MaxSteps)
	return Series{Occurrences: out, Truncated: true}
}

func (e *Expander) location() *time.Location {
	if e == nil || e.Location == nil {
		return time.Local
	}
	return e.Location
}

func (e *Expander) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// until returns the last date (YYYY-MM-DD) a series may produce.
func (e *Expander) until(ev model.Event, loc *time.Location) string {
	raw := strings.TrimSpace(ev.RecurrenceEnd)
	if raw != "" {
		if t, err := model.ParseDate(raw, loc); err == nil {
			return model.DateOf(t)
		}
		if ts, err := model.ParseTimestamp(raw, loc); err == nil && !ts.IsZero() {
			return model.DateOf(ts.In(loc))
		}
		appLog.Debug("recurrence: unparseable end, using default horizon", "event_id", ev.ID, "recurrence_end", raw)
	}
	return model.DateOf(e.now().In(loc).AddDate(DefaultHorizonYears, 0, 0))
}

func newOccurrence(ev model.Event, start time.Time, generated bool) model.Occurrence {
	return model.Occurrence{
		EventID:     ev.ID,
		Source:      ev.Source,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Recurrence:  ev.Recurrence,
		Generated:   generated,
		Start:       start,
	}
}
