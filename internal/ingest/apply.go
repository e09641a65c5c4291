package ingest

import (
	"context"
	"errors"
	"fmt"

	appLog "appdate/internal/log"
	"appdate/internal/model"
	"appdate/internal/store"
)

// Writer is the part of the event store ingestion writes to.
type Writer interface {
	Get(ctx context.Context, c model.Collection, id string) (model.Event, error)
	Upsert(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error)
	Delete(ctx context.Context, c model.Collection, id string) error
}

// Outcome names what Apply did.
type Outcome string

const (
	OutcomeUpserted Outcome = "upserted"
	OutcomeDeleted  Outcome = "deleted"
)

// Apply writes p to the synced collection: a delete for delete payloads,
// an upsert keyed by DocID otherwise. An existing record only has the
// payload's fields replaced; recurrence, exclusions and the all-day flag
// stay as the user left them.
func Apply(ctx context.Context, w Writer, p Payload) (Outcome, error) {
	if p.IsDelete() {
		if err := w.Delete(ctx, model.CollectionSynced, p.DocID()); err != nil {
			return "", fmt.Errorf("ingest delete %s: %w", p.DocID(), err)
		}
		appLog.Info("ingest: synced event deleted", "id", p.DocID())
		return OutcomeDeleted, nil
	}

	ev, err := p.Event()
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", p.DocID(), err)
	}

	existing, err := w.Get(ctx, model.CollectionSynced, ev.ID)
	switch {
	case err == nil:
		ev = merge(existing, ev)
	case !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("ingest lookup %s: %w", ev.ID, err)
	}

	if _, err := w.Upsert(ctx, model.CollectionSynced, ev); err != nil {
		return "", fmt.Errorf("ingest upsert %s: %w", ev.ID, err)
	}
	appLog.Info("ingest: synced event upserted", "id", ev.ID, "title", ev.Title, "start", ev.Start.String())
	return OutcomeUpserted, nil
}

// merge overwrites the fields a payload carries and keeps the rest of old.
func merge(old, upd model.Event) model.Event {
	out := old
	out.ExternalID = upd.ExternalID
	out.Title = upd.Title
	out.Start = upd.Start
	out.End = upd.End
	out.Location = upd.Location
	out.Description = upd.Description
	out.Source = upd.Source
	return out
}
