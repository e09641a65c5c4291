// Package ics converts between raw events and the interchange formats: ICS
// calendar text and the JSON backup array.
package ics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "appdate/internal/log"
	"appdate/internal/model"
)

var (
	errNoSummary = errors.New("missing SUMMARY")
	errNoStart   = errors.New("missing DTSTART")
)

// ImportResult is the outcome of parsing one interchange document.
type ImportResult struct {
	Events []model.Event
	// Dropped counts blocks or records that were skipped as incomplete or
	// malformed.
	Dropped int
}

// ParseICS reads an ICS document and returns one raw event per complete
// VEVENT block. Floating and TZID times are converted to loc (nil means
// time.Local); UTC times stay UTC. Blocks without a summary or a start,
// or that fail to parse, are dropped and counted.
//
// The document is split into VEVENT blocks before parsing so that one
// broken block, or a broken calendar envelope, does not cost the rest.
func ParseICS(r io.Reader, loc *time.Location) (ImportResult, error) {
	if loc == nil {
		loc = time.Local
	}

	blocks, dropped, err := splitEvents(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read ics: %w", err)
	}

	res := ImportResult{Dropped: dropped}
	for i, block := range blocks {
		ev, err := parseBlock(block, loc)
		if err != nil {
			appLog.Debug("ics vevent dropped", "index", i, "reason", err.Error())
			res.Dropped++
			continue
		}
		res.Events = append(res.Events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(res.Events), "dropped", res.Dropped)
	return res, nil
}

// splitEvents unfolds continuation lines and collects the lines of every
// BEGIN:VEVENT ... END:VEVENT block. CRLF, LF and bare CR line endings are
// all accepted. A block that is never closed is counted as dropped.
func splitEvents(r io.Reader) ([][]string, int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if n := len(lines); n > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			lines[n-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}

	var (
		blocks  [][]string
		current []string
		open    bool
		dropped int
	)
	for _, line := range lines {
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "BEGIN:VEVENT":
			if open {
				dropped++
			}
			open = true
			current = []string{"BEGIN:VEVENT"}
		case "END:VEVENT":
			if open {
				blocks = append(blocks, append(current, "END:VEVENT"))
			}
			open = false
			current = nil
		default:
			if open {
				current = append(current, strings.TrimRight(line, " \t"))
			}
		}
	}
	if open {
		dropped++
	}
	return blocks, dropped, nil
}

func parseBlock(lines []string, loc *time.Location) (model.Event, error) {
	doc := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VCALENDAR\r\n"
	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	if err != nil {
		return model.Event{}, err
	}
	events := cal.Events()
	if len(events) != 1 {
		return model.Event{}, fmt.Errorf("expected one VEVENT, got %d", len(events))
	}
	return toEvent(events[0], loc)
}

func toEvent(ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	var ev model.Event

	ev.Title = strings.TrimSpace(textProp(ve, ical.ComponentPropertySummary))
	if ev.Title == "" {
		return ev, errNoSummary
	}
	ev.Description = textProp(ve, ical.ComponentPropertyDescription)
	ev.Location = textProp(ve, ical.ComponentPropertyLocation)

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || strings.TrimSpace(startProp.Value) == "" {
		return ev, errNoStart
	}
	start, dateOnly, err := parseTime(startProp, loc)
	if err != nil {
		return ev, fmt.Errorf("DTSTART: %w", err)
	}
	ev.Start = model.At(start)
	ev.AllDay = dateOnly

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && endProp.Value != "" {
		end, _, err := parseTime(endProp, loc)
		if err != nil {
			return ev, fmt.Errorf("DTEND: %w", err)
		}
		ev.End = model.At(end)
	}

	if p := ve.GetProperty("X-MICROSOFT-CDO-ALLDAYEVENT"); p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "TRUE") {
		ev.AllDay = true
	}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.ExternalID = strings.TrimSpace(p.Value)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		if err := applyRRule(&ev, p.Value, start, loc); err != nil {
			// The single occurrence is still worth importing.
			appLog.Warn("ics rrule ignored", "title", ev.Title, "rrule", p.Value, "err", err)
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseValue(part, param(p, "TZID"), loc)
			if err != nil {
				continue
			}
			ev.ExcludedDates = append(ev.ExcludedDates, model.DateOf(t.In(loc)))
		}
	}

	return ev, nil
}

// applyRRule maps the subset of RRULE the data model can represent:
// frequency, interval and an end bound given as UNTIL or COUNT.
func applyRRule(ev *model.Event, value string, start time.Time, loc *time.Location) error {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return err
	}

	switch opt.Freq {
	case rrule.DAILY:
		ev.Recurrence = model.RecurrenceDaily
	case rrule.WEEKLY:
		ev.Recurrence = model.RecurrenceWeekly
	case rrule.MONTHLY:
		ev.Recurrence = model.RecurrenceMonthly
	case rrule.YEARLY:
		ev.Recurrence = model.RecurrenceYearly
	default:
		return fmt.Errorf("unsupported frequency %v", opt.Freq)
	}
	ev.RecurrenceInterval = max(opt.Interval, 1)

	switch {
	case !opt.Until.IsZero():
		ev.RecurrenceEnd = model.DateOf(opt.Until.In(loc))
	case opt.Count > 0:
		opt.Dtstart = start
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return err
		}
		if all := rule.All(); len(all) > 0 {
			ev.RecurrenceEnd = model.DateOf(all[len(all)-1].In(loc))
		}
	}
	return nil
}

// parseTime reads a DTSTART / DTEND style property.
func parseTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, dateOnly, err := parseValue(strings.TrimSpace(p.Value), param(p, "TZID"), loc)
	if err != nil {
		return time.Time{}, false, err
	}
	if strings.EqualFold(param(p, "VALUE"), "DATE") {
		dateOnly = true
	}
	return t, dateOnly, nil
}

// parseValue accepts the three ICS forms: UTC date-time (trailing Z),
// date-time in TZID or floating, and date only.
func parseValue(v, tzid string, loc *time.Location) (time.Time, bool, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t.UTC(), false, err

	case strings.Contains(v, "T"):
		src := loc
		if tzid != "" {
			if tz, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
				src = tz
			} else {
				// Non-IANA names (Outlook) are read as wall clock.
				appLog.Debug("ics unknown TZID treated as floating", "tzid", tzid)
			}
		}
		t, err := time.ParseInLocation("20060102T150405", v, src)
		if err != nil {
			t, err = time.ParseInLocation("20060102T1504", v, src)
		}
		return t.In(loc), false, err

	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}

func param(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func textProp(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return unescapeText(p.Value)
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
