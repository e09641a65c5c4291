package ics

import (
	"context"
	"fmt"
	"io"
	"time"

	appLog "appdate/internal/log"
	"appdate/internal/model"
	"appdate/internal/store"
)

// Target is the part of the event store imports write to.
type Target interface {
	List(ctx context.Context, c model.Collection) ([]model.Event, error)
	CreateBatch(ctx context.Context, c model.Collection, evs []model.Event) ([]model.Event, error)
	DeleteBatch(ctx context.Context, c model.Collection, ids []string) error
}

// Importer writes parsed documents into the store in chunks.
type Importer struct {
	Store    Target
	MaxBatch int
	Location *time.Location
	Now      func() time.Time
}

// ImportOptions controls an ICS import.
type ImportOptions struct {
	// Reset deletes every record of both collections before inserting.
	Reset bool
	// Since is the first YYYY-MM-DD date imported; empty means yesterday.
	Since string
}

// Report summarises an import or restore.
type Report struct {
	Parsed   int `json:"parsed"`
	Dropped  int `json:"dropped"`
	Skipped  int `json:"skipped"`
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
}

// Import parses an ICS document and inserts the events occurring on or
// after opts.Since into the manual collection with source imported.
// If nothing is left to insert the store is not touched, even with Reset.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts ImportOptions) (Report, error) {
	loc := im.location()
	parsed, err := ParseICS(r, loc)
	if err != nil {
		return Report{}, err
	}

	since := opts.Since
	if since == "" {
		since = model.DateOf(im.now().In(loc).AddDate(0, 0, -1))
	}

	rep := Report{Parsed: len(parsed.Events), Dropped: parsed.Dropped}
	keep := make([]model.Event, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		if lastDate(ev, loc) < since {
			rep.Skipped++
			continue
		}
		ev.Source = model.SourceImported
		ev.CreatedAt = im.now()
		keep = append(keep, ev)
	}

	if len(keep) == 0 {
		appLog.Info("ics import: nothing to insert", "parsed", rep.Parsed, "skipped", rep.Skipped)
		return rep, nil
	}

	if opts.Reset {
		n, err := im.reset(ctx)
		rep.Deleted = n
		if err != nil {
			return rep, err
		}
	}

	n, err := im.insert(ctx, keep)
	rep.Inserted = n
	appLog.Info("ics import finished",
		"parsed", rep.Parsed,
		"dropped", rep.Dropped,
		"skipped", rep.Skipped,
		"deleted", rep.Deleted,
		"inserted", rep.Inserted,
	)
	return rep, err
}

// lastDate is the last date ev can occur on. Open-ended series sort after
// every date.
func lastDate(ev model.Event, loc *time.Location) string {
	if !ev.Recurrence.Recurring() {
		return model.DateOf(ev.Start.In(loc))
	}
	if ev.RecurrenceEnd == "" {
		return "9999-12-31"
	}
	return ev.RecurrenceEnd
}

// Restore reads a backup array and inserts its records into the manual
// collection.
func (im *Importer) Restore(ctx context.Context, r io.Reader) (Report, error) {
	parsed, err := ReadBackup(r, im.now())
	if err != nil {
		return Report{}, err
	}
	rep := Report{Parsed: len(parsed.Events), Dropped: parsed.Dropped}
	n, err := im.insert(ctx, parsed.Events)
	rep.Inserted = n
	appLog.Info("backup restore finished", "inserted", rep.Inserted, "dropped", rep.Dropped)
	return rep, err
}

// reset deletes both collections chunk by chunk and returns how many
// records were removed before any failure.
func (im *Importer) reset(ctx context.Context) (int, error) {
	deleted := 0
	for _, c := range model.Collections {
		events, err := im.Store.List(ctx, c)
		if err != nil {
			return deleted, fmt.Errorf("reset: list %s: %w", c, err)
		}
		ids := make([]string, len(events))
		for i, ev := range events {
			ids[i] = ev.ID
		}
		for _, chunk := range store.Chunks(ids, im.batchSize()) {
			if err := im.Store.DeleteBatch(ctx, c, chunk); err != nil {
				return deleted, fmt.Errorf("reset: delete from %s: %w", c, err)
			}
			deleted += len(chunk)
		}
		appLog.Info("ics import: collection cleared", "collection", c, "count", len(ids))
	}
	return deleted, nil
}

func (im *Importer) insert(ctx context.Context, events []model.Event) (int, error) {
	inserted := 0
	for _, chunk := range store.Chunks(events, im.batchSize()) {
		created, err := im.Store.CreateBatch(ctx, model.CollectionManual, chunk)
		if err != nil {
			return inserted, fmt.Errorf("insert after %d events: %w", inserted, err)
		}
		inserted += len(created)
		appLog.Debug("import chunk committed", "total", inserted)
	}
	return inserted, nil
}

func (im *Importer) batchSize() int {
	if im.MaxBatch < 1 {
		return 400
	}
	return min(im.MaxBatch, store.MaxBatchOps)
}

func (im *Importer) location() *time.Location {
	if im.Location == nil {
		return time.Local
	}
	return im.Location
}

func (im *Importer) now() time.Time {
	if im.Now == nil {
		return time.Now()
	}
	return im.Now()
}
