package ics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	appLog "appdate/internal/log"
	"appdate/internal/model"
)

var ErrNotArray = errors.New("backup is not a JSON array")

// WriteBackup writes the events with source manual as an indented JSON
// array without ids. Imported and synced events can be recreated from their
// origin and are left out.
func WriteBackup(w io.Writer, events []model.Event) error {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Source != model.SourceManual {
			continue
		}
		ev.ID = ""
		out = append(out, ev)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return nil
}

// ReadBackup decodes a backup array. Every record is decoded on its own
// with unknown fields rejected; records that fail to decode or have no
// title or start are dropped and counted. Kept records have their id
// cleared, their source forced to manual and createdAt set to now.
func ReadBackup(r io.Reader, now time.Time) (ImportResult, error) {
	var raw []json.RawMessage
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ImportResult{}, ErrNotArray
		}
		return ImportResult{}, fmt.Errorf("failed to decode backup: %w", err)
	}
	if raw == nil {
		return ImportResult{}, ErrNotArray
	}

	var res ImportResult
	for i, rec := range raw {
		ev, err := decodeRecord(rec)
		if err == nil {
			err = ev.Validate()
		}
		if err != nil {
			appLog.Debug("backup record dropped", "index", i, "reason", err.Error())
			res.Dropped++
			continue
		}
		ev.ID = ""
		ev.Source = model.SourceManual
		ev.CreatedAt = now
		ev.UpdatedAt = time.Time{}
		res.Events = append(res.Events, ev)
	}

	appLog.Info("backup parse completed", "event_count", len(res.Events), "dropped", res.Dropped)
	return res, nil
}

func decodeRecord(rec json.RawMessage) (model.Event, error) {
	var ev model.Event
	if strings.TrimSpace(string(rec)) == "null" {
		return ev, errors.New("null record")
	}
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return ev, err
	}
	return ev, nil
}
