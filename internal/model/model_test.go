package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	local, err := ParseTimestamp("2025-01-06T09:00:00", berlin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, berlin), local.Time)
	assert.Equal(t, "2025-01-06T09:00:00", local.String())

	short, err := ParseTimestamp("2025-01-06T09:30", berlin)
	require.NoError(t, err)
	assert.Equal(t, 30, short.Minute())

	utc, err := ParseTimestamp("2025-01-06T09:00:00Z", berlin)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, utc.Location())
	assert.Equal(t, "2025-01-06T09:00:00Z", utc.String())

	date, err := ParseTimestamp("2025-01-06", berlin)
	require.NoError(t, err)
	assert.Equal(t, 0, date.Hour())
	assert.Equal(t, "2025-01-06", date.Date())

	empty, err := ParseTimestamp("  ", berlin)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = ParseTimestamp("next tuesday", berlin)
	assert.Error(t, err)
}

func TestEventJSON(t *testing.T) {
	raw := `{
		"id": "abc",
		"title": "Standup",
		"start": "2025-01-06T09:00:00",
		"end": "2025-01-06T09:15:00",
		"isAllDay": false,
		"source": "app",
		"recurrence": "weekly",
		"recurrenceInterval": 2,
		"recurrenceEnd": "2025-03-01",
		"excludedDates": ["2025-01-20"]
	}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, SourceManual, ev.Source)
	assert.Equal(t, RecurrenceWeekly, ev.Recurrence)
	assert.Equal(t, 2, ev.Interval())
	assert.True(t, ev.IsExcluded("2025-01-20"))
	assert.Equal(t, 15*time.Minute, ev.End.Sub(ev.Start.Time))

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"start":"2025-01-06T09:00:00"`)
	assert.Contains(t, string(out), `"recurrence":"weekly"`)
	assert.Contains(t, string(out), `"source":"manual"`)
}

func TestEventJSONMissingEnd(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","start":"2025-01-06T09:00:00","end":null,"recurrence":"fortnightly"}`), &ev))
	assert.True(t, ev.End.IsZero())
	assert.Equal(t, RecurrenceNone, ev.Recurrence)

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"end":""`)
}

func TestParseSource(t *testing.T) {
	assert.Equal(t, SourceManual, ParseSource(""))
	assert.Equal(t, SourceManual, ParseSource("app"))
	assert.Equal(t, SourceSynced, ParseSource("Exchange"))
	assert.Equal(t, SourceImported, ParseSource("imported"))

	assert.Equal(t, CollectionManual, SourceImported.Collection())
	assert.Equal(t, CollectionSynced, SourceSynced.Collection())
}

func TestRecurrenceText(t *testing.T) {
	for _, r := range []Recurrence{RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly} {
		got, err := ParseRecurrence(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	assert.False(t, RecurrenceNone.Recurring())
	assert.False(t, Recurrence(42).Recurring())
	assert.True(t, RecurrenceMonthly.Recurring())

	_, err := ParseRecurrence("hourly")
	assert.Error(t, err)
}

func TestExcludingDoesNotAlias(t *testing.T) {
	base := Event{ExcludedDates: make([]string, 0, 4)}
	a := base.Excluding("2025-01-13")
	b := base.Excluding("2025-01-20")

	assert.Equal(t, []string{"2025-01-13"}, a.ExcludedDates)
	assert.Equal(t, []string{"2025-01-20"}, b.ExcludedDates)
	assert.Empty(t, base.ExcludedDates)

	again := a.Excluding("2025-01-13")
	assert.Len(t, again.ExcludedDates, 1)
}

func TestSnapshotFind(t *testing.T) {
	snap := Snapshot{
		Manual: []Event{{ID: "m1"}},
		Synced: []Event{{ID: "s1"}},
	}
	_, c, ok := snap.Find("s1")
	require.True(t, ok)
	assert.Equal(t, CollectionSynced, c)

	_, _, ok = snap.Find("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, snap.Len())
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Event{}.Validate(), ErrMissingTitle)
	assert.ErrorIs(t, Event{Title: "x"}.Validate(), ErrMissingStart)
	assert.NoError(t, Event{Title: "x", Start: At(time.Now())}.Validate())
	assert.Equal(t, PlaceholderTitle, Event{}.DisplayTitle())
}
