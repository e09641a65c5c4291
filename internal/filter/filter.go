// Package filter maps the canonical occurrence set and a filter
// configuration to an ordered, date-grouped view. Everything here is a pure
// function of its inputs.
package filter

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"appdate/internal/model"
)

// Category selects occurrences by provenance.
type Category string

const (
	CategoryAll    Category = "all"
	CategorySynced Category = "synced"
	CategoryManual Category = "manual"
)

// ParseCategory accepts the category names and the legacy "exchange" alias.
// Anything else selects all occurrences.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "synced", "exchange":
		return CategorySynced
	case "manual", "app":
		return CategoryManual
	default:
		return CategoryAll
	}
}

// Keeps reports whether an occurrence of source src passes the category.
func (c Category) Keeps(src model.Source) bool {
	switch c {
	case CategoryManual:
		return src == model.SourceManual
	case CategorySynced:
		return src == model.SourceSynced || src == model.SourceImported
	default:
		return true
	}
}

// Range is an inclusive YYYY-MM-DD date range. An empty bound is open.
type Range struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Contains reports whether date lies inside r.
func (r Range) Contains(date string) bool {
	if r.From != "" && date < r.From {
		return false
	}
	if r.To != "" && date > r.To {
		return false
	}
	return true
}

// Config is the complete input of a filter pass besides the occurrences.
type Config struct {
	Category Category
	// Search keeps occurrences whose title, description or location contain
	// it, ignoring case. Blank means no search.
	Search string
	// Range selects an explicit date range. Nil means the rolling list view:
	// everything from the day before Now onward.
	Range *Range
	// Now anchors the rolling list view. A zero Now leaves it unbounded.
	Now time.Time
	// Location is the timezone dates are compared in; nil means time.Local.
	Location *time.Location
}

// EffectiveRange resolves the implicit rolling range.
func (c Config) EffectiveRange() Range {
	if c.Range != nil {
		return *c.Range
	}
	if c.Now.IsZero() {
		return Range{}
	}
	return Range{From: model.DateOf(c.Now.In(c.location()).AddDate(0, 0, -1))}
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Day groups the occurrences starting on one date.
type Day struct {
	Date        string
	Occurrences []model.Occurrence
}

// View is the filtered, sorted and grouped output.
type View struct {
	Days  []Day
	Total int
	Range Range
}

// Nearest returns the first day on or after date, for jumping to a date
// that has no occurrences.
func (v View) Nearest(date string) (Day, bool) {
	i, _ := slices.BinarySearchFunc(v.Days, date, func(d Day, target string) int {
		return strings.Compare(d.Date, target)
	})
	if i >= len(v.Days) {
		return Day{}, false
	}
	return v.Days[i], true
}

// Occurrences flattens the view in display order.
func (v View) Occurrences() []model.Occurrence {
	out := make([]model.Occurrence, 0, v.Total)
	for _, d := range v.Days {
		out = append(out, d.Occurrences...)
	}
	return out
}

// Apply filters set by cfg, sorts ascending by start and groups by date.
// The input slice is not modified.
func Apply(set []model.Occurrence, cfg Config) View {
	loc := cfg.location()
	rng := cfg.EffectiveRange()

	search := strings.TrimSpace(cfg.Search)
	var fold cases.Caser
	if search != "" {
		fold = cases.Fold()
		search = fold.String(search)
	}

	kept := make([]model.Occurrence, 0, len(set))
	for _, occ := range set {
		if !cfg.Category.Keeps(occ.Source) {
			continue
		}
		if search != "" && !matches(fold, occ, search) {
			continue
		}
		if !rng.Contains(model.DateOf(occ.Start.In(loc))) {
			continue
		}
		kept = append(kept, occ)
	}

	slices.SortStableFunc(kept, func(a, b model.Occurrence) int {
		return cmp.Or(
			a.Start.Compare(b.Start),
			strings.Compare(a.Title, b.Title),
			strings.Compare(a.EventID, b.EventID),
		)
	})

	view := View{Total: len(kept), Range: rng}
	for _, occ := range kept {
		date := model.DateOf(occ.Start.In(loc))
		if n := len(view.Days); n > 0 && view.Days[n-1].Date == date {
			view.Days[n-1].Occurrences = append(view.Days[n-1].Occurrences, occ)
			continue
		}
		view.Days = append(view.Days, Day{Date: date, Occurrences: []model.Occurrence{occ}})
	}
	return view
}

func matches(fold cases.Caser, occ model.Occurrence, term string) bool {
	for _, field := range []string{occ.Title, occ.Description, occ.Location} {
		if field != "" && strings.Contains(fold.String(field), term) {
			return true
		}
	}
	return false
}
