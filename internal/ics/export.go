package ics

import (
	"fmt"
	"io"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"appdate/internal/model"
)

const productID = "-//appdate//EN"

var recurrenceFreq = map[model.Recurrence]rrule.Frequency{
	model.RecurrenceDaily:   rrule.DAILY,
	model.RecurrenceWeekly:  rrule.WEEKLY,
	model.RecurrenceMonthly: rrule.MONTHLY,
	model.RecurrenceYearly:  rrule.YEARLY,
}

// ExportICS writes events as a VCALENDAR with one VEVENT per raw event.
// Series are written as RRULE plus EXDATE so the output reads back through
// ParseICS into equivalent records. now stamps DTSTAMP.
func ExportICS(w io.Writer, events []model.Event, loc *time.Location, now time.Time) error {
	if loc == nil {
		loc = time.Local
	}

	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, productID)

	for _, ev := range events {
		cal.Children = append(cal.Children, toVEvent(ev, loc, now))
	}

	if err := goical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func toVEvent(ev model.Event, loc *time.Location, now time.Time) *goical.Component {
	ve := goical.NewComponent(goical.CompEvent)

	uid := ev.ExternalID
	if uid == "" {
		uid = ev.ID
	}
	ve.Props.SetText(goical.PropUID, uid)
	ve.Props.SetText(goical.PropSummary, ev.DisplayTitle())
	ve.Props.SetDateTime(goical.PropDateTimeStamp, now.UTC())

	if ev.AllDay {
		ve.Props.SetDate(goical.PropDateTimeStart, ev.Start.In(loc))
		if !ev.End.IsZero() {
			ve.Props.SetDate(goical.PropDateTimeEnd, ev.End.In(loc))
		}
	} else {
		ve.Props.SetDateTime(goical.PropDateTimeStart, ev.Start.UTC())
		if !ev.End.IsZero() {
			ve.Props.SetDateTime(goical.PropDateTimeEnd, ev.End.UTC())
		}
	}

	if ev.Description != "" {
		ve.Props.SetText(goical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.Props.SetText(goical.PropLocation, ev.Location)
	}

	if freq, ok := recurrenceFreq[ev.Recurrence]; ok {
		opt := &rrule.ROption{Freq: freq, Interval: ev.Interval()}
		if end, err := model.ParseDate(ev.RecurrenceEnd, loc); err == nil {
			opt.Until = end.AddDate(0, 0, 1).Add(-time.Second).UTC()
		}
		ve.Props.SetRecurrenceRule(opt)

		for _, date := range ev.ExcludedDates {
			day, err := model.ParseDate(date, loc)
			if err != nil {
				continue
			}
			p := goical.NewProp(goical.PropExceptionDates)
			p.SetDate(day)
			ve.Props.Add(p)
		}
	}

	return ve
}
