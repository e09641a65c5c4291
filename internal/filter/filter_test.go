package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appdate/internal/model"
)

func occ(id, title string, src model.Source, start time.Time) model.Occurrence {
	return model.Occurrence{
		EventID: id,
		Title:   title,
		Source:  src,
		Start:   start,
		End:     start.Add(time.Hour),
	}
}

func at(day, hour int) time.Time {
	return time.Date(2025, 1, day, hour, 0, 0, 0, time.UTC)
}

func TestApplyGroupsAndSorts(t *testing.T) {
	set := []model.Occurrence{
		occ("3", "Late", model.SourceManual, at(11, 15)),
		occ("1", "Early", model.SourceManual, at(10, 8)),
		occ("2", "Noon", model.SourceSynced, at(10, 12)),
	}

	view := Apply(set, Config{Location: time.UTC})

	require.Len(t, view.Days, 2)
	assert.Equal(t, "2025-01-10", view.Days[0].Date)
	assert.Equal(t, "2025-01-11", view.Days[1].Date)
	assert.Equal(t, "1", view.Days[0].Occurrences[0].EventID)
	assert.Equal(t, "2", view.Days[0].Occurrences[1].EventID)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, "3", set[0].EventID, "input must not be reordered")
}

func TestApplyCategory(t *testing.T) {
	set := []model.Occurrence{
		occ("m", "A", model.SourceManual, at(10, 8)),
		occ("i", "B", model.SourceImported, at(10, 9)),
		occ("s", "C", model.SourceSynced, at(10, 10)),
	}

	manual := Apply(set, Config{Category: CategoryManual, Location: time.UTC}).Occurrences()
	require.Len(t, manual, 1)
	assert.Equal(t, "m", manual[0].EventID)

	synced := Apply(set, Config{Category: CategorySynced, Location: time.UTC}).Occurrences()
	require.Len(t, synced, 2)
	assert.Equal(t, "i", synced[0].EventID)
	assert.Equal(t, "s", synced[1].EventID)

	assert.Equal(t, 3, Apply(set, Config{Category: CategoryAll, Location: time.UTC}).Total)
}

func TestApplySearchIgnoresCase(t *testing.T) {
	a := occ("1", "Zahnarzt", model.SourceManual, at(10, 8))
	b := occ("2", "Meeting", model.SourceManual, at(10, 9))
	b.Location = "Hauptstraße 5"
	c := occ("3", "Lunch", model.SourceManual, at(10, 12))
	c.Description = "with the TEAM"

	set := []model.Occurrence{a, b, c}

	terms := map[string][]string{
		"zahn":  {"1"},
		"HAUPT": {"2"},
		"team":  {"3"},
		"  ":    {"1", "2", "3"},
		"nope":  nil,
	}
	for term, want := range terms {
		var got []string
		for _, o := range Apply(set, Config{Search: term, Location: time.UTC}).Occurrences() {
			got = append(got, o.EventID)
		}
		assert.Equal(t, want, got, "search %q", term)
	}
}

func TestApplyRollingRange(t *testing.T) {
	set := []model.Occurrence{
		occ("old", "Old", model.SourceManual, at(8, 9)),
		occ("yesterday", "Y", model.SourceManual, at(9, 9)),
		occ("today", "T", model.SourceManual, at(10, 9)),
	}

	view := Apply(set, Config{Now: at(10, 7), Location: time.UTC})

	require.Len(t, view.Days, 2)
	assert.Equal(t, "2025-01-09", view.Range.From)
	assert.Equal(t, "yesterday", view.Days[0].Occurrences[0].EventID)
}

func TestApplyExplicitRange(t *testing.T) {
	set := []model.Occurrence{
		occ("1", "A", model.SourceManual, at(1, 9)),
		occ("2", "B", model.SourceManual, at(15, 9)),
		occ("3", "C", model.SourceManual, at(31, 9)),
	}

	view := Apply(set, Config{
		Range:    &Range{From: "2025-01-15", To: "2025-01-31"},
		Now:      at(20, 0),
		Location: time.UTC,
	})

	assert.Equal(t, 2, view.Total)
}

func TestApplyGroupsInLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	late := occ("1", "Late", model.SourceManual, time.Date(2025, 1, 10, 23, 30, 0, 0, time.UTC))
	view := Apply([]model.Occurrence{late}, Config{Location: berlin})

	require.Len(t, view.Days, 1)
	assert.Equal(t, "2025-01-11", view.Days[0].Date)
}

func TestNearest(t *testing.T) {
	set := []model.Occurrence{
		occ("1", "A", model.SourceManual, at(5, 9)),
		occ("2", "B", model.SourceManual, at(12, 9)),
	}
	view := Apply(set, Config{Location: time.UTC})

	day, ok := view.Nearest("2025-01-07")
	require.True(t, ok)
	assert.Equal(t, "2025-01-12", day.Date)

	day, ok = view.Nearest("2025-01-05")
	require.True(t, ok)
	assert.Equal(t, "2025-01-05", day.Date)

	_, ok = view.Nearest("2025-02-01")
	assert.False(t, ok)
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategorySynced, ParseCategory("Exchange"))
	assert.Equal(t, CategoryManual, ParseCategory("manual"))
	assert.Equal(t, CategoryAll, ParseCategory(""))
	assert.Equal(t, CategoryAll, ParseCategory("whatever"))
}

func TestRangeFor(t *testing.T) {
	// Wednesday.
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	week, err := RangeFor(RangeWeek, now, time.Monday)
	require.NoError(t, err)
	assert.Equal(t, Range{From: "2025-01-13", To: "2025-01-19"}, week)

	week, err = RangeFor(RangeWeek, now, time.Sunday)
	require.NoError(t, err)
	assert.Equal(t, Range{From: "2025-01-12", To: "2025-01-18"}, week)

	month, err := RangeFor(RangeMonth, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), time.Monday)
	require.NoError(t, err)
	assert.Equal(t, Range{From: "2024-02-01", To: "2024-02-29"}, month)

	year, err := RangeFor(RangeYear, now, time.Monday)
	require.NoError(t, err)
	assert.Equal(t, Range{From: "2025-01-01", To: "2025-12-31"}, year)

	_, err = RangeFor(RangeCustom, now, time.Monday)
	assert.ErrorIs(t, err, ErrCustomRange)
}

func TestCustomRange(t *testing.T) {
	r, err := CustomRange("2025-03-01", "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, Range{From: "2025-01-01", To: "2025-03-01"}, r)

	_, err = CustomRange("2025-13-01", "")
	assert.Error(t, err)
}
