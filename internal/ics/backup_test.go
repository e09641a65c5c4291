package ics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appdate/internal/model"
)

func TestWriteBackupManualOnlyWithoutIDs(t *testing.T) {
	start := model.At(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	events := []model.Event{
		{ID: "a", Title: "Manual", Start: start, Source: model.SourceManual},
		{ID: "b", Title: "Imported", Start: start, Source: model.SourceImported},
		{ID: "c", Title: "Synced", Start: start, Source: model.SourceSynced},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBackup(&buf, events))

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	require.Len(t, raw, 1)
	assert.NotContains(t, raw[0], "id")
	assert.Equal(t, "Manual", raw[0]["title"])
}

func TestWriteBackupEmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBackup(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestReadBackup(t *testing.T) {
	now := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	doc := `[
		{"id": "old", "title": "Keep", "start": "2025-01-06T09:00:00", "source": "synced", "recurrence": "weekly", "excludedDates": ["2025-01-13"]},
		{"title": "", "start": "2025-01-06T09:00:00"},
		{"title": "No start"},
		{"title": "Unknown field", "start": "2025-01-06T09:00:00", "color": "red"},
		{"title": "Bad time", "start": "yesterday"},
		null,
		{"title": "Legacy", "start": "2025-01-07T10:00", "source": "app", "isAllDay": true}
	]`

	res, err := ReadBackup(strings.NewReader(doc), now)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, 5, res.Dropped)

	keep := res.Events[0]
	assert.Empty(t, keep.ID)
	assert.Equal(t, model.SourceManual, keep.Source)
	assert.Equal(t, now, keep.CreatedAt)
	assert.Equal(t, model.RecurrenceWeekly, keep.Recurrence)
	assert.Equal(t, []string{"2025-01-13"}, keep.ExcludedDates)

	legacy := res.Events[1]
	assert.True(t, legacy.AllDay)
	assert.Equal(t, 10, legacy.Start.Hour())
}

func TestReadBackupRejectsNonArray(t *testing.T) {
	for _, doc := range []string{`{"title": "x"}`, `null`, `"text"`} {
		_, err := ReadBackup(strings.NewReader(doc), time.Now())
		assert.ErrorIs(t, err, ErrNotArray, doc)
	}

	_, err := ReadBackup(strings.NewReader(`[{"title":`), time.Now())
	assert.Error(t, err)
}

func TestBackupRoundTrip(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.Local)
	events := []model.Event{{
		ID:                 "x",
		Title:              "Round trip",
		Start:              model.At(start),
		End:                model.At(start.Add(time.Hour)),
		Source:             model.SourceManual,
		Recurrence:         model.RecurrenceMonthly,
		RecurrenceInterval: 3,
		RecurrenceEnd:      "2025-12-31",
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteBackup(&buf, events))
	res, err := ReadBackup(&buf, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Events, 1)

	got := res.Events[0]
	assert.True(t, got.Start.Equal(start))
	assert.Equal(t, 3, got.RecurrenceInterval)
	assert.Equal(t, "2025-12-31", got.RecurrenceEnd)
}
