// Package store holds the two raw event collections. Every implementation
// pushes the complete collection to its subscribers after each committed
// change; readers never poll.
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"appdate/internal/model"
)

// MaxBatchOps is the largest number of writes a single batch may carry.
const MaxBatchOps = 500

var (
	ErrNotFound      = errors.New("event not found")
	ErrExists        = errors.New("event already exists")
	ErrBatchTooLarge = errors.New("batch exceeds store limit")
	ErrClosed        = errors.New("store closed")
	ErrNoID          = errors.New("event has no id")
)

// Listener receives the full content of a collection. It is called from a
// goroutine owned by the store, one call at a time per subscription.
// Snapshots that arrive while a call is running are coalesced so only the
// newest one is delivered next.
type Listener func(events []model.Event)

// Store is the event store interface shared by all implementations.
type Store interface {
	// Subscribe registers fn for changes to c. fn receives the current
	// content right away. The returned function cancels the subscription.
	Subscribe(c model.Collection, fn Listener) (func(), error)

	List(ctx context.Context, c model.Collection) ([]model.Event, error)
	Get(ctx context.Context, c model.Collection, id string) (model.Event, error)

	// Create stores ev under a new id unless ev.ID is set.
	Create(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error)
	// Update replaces an existing record. It returns ErrNotFound if the id
	// is unknown.
	Update(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error)
	// Upsert creates or replaces the record with ev.ID.
	Upsert(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error)
	// Delete removes a record. Unknown ids are not an error.
	Delete(ctx context.Context, c model.Collection, id string) error

	// CreateBatch and DeleteBatch apply up to MaxBatchOps writes atomically.
	CreateBatch(ctx context.Context, c model.Collection, evs []model.Event) ([]model.Event, error)
	DeleteBatch(ctx context.Context, c model.Collection, ids []string) error

	Close() error
}

// Chunks splits s into consecutive slices of at most n elements. The chunks
// share memory with s.
func Chunks[T any](s []T, n int) [][]T {
	if n < 1 {
		n = 1
	}
	out := make([][]T, 0, (len(s)+n-1)/n)
	for len(s) > n {
		out = append(out, s[:n:n])
		s = s[n:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
	watch bool
}

func defaultOptions() options {
	return options{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used for createdAt / updatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDs sets the id generator used by Create.
func WithIDs(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithWatch makes a file backed store watch its files for changes made by
// other processes and push them to subscribers.
func WithWatch(watch bool) Option {
	return func(o *options) {
		o.watch = watch
	}
}

// clone deep-copies events so callers never share slices with the store.
func clone(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		ev.ExcludedDates = slices.Clone(ev.ExcludedDates)
		out[i] = ev
	}
	return out
}

// stamp fills the bookkeeping timestamps of a record being written.
func stamp(ev model.Event, created time.Time, now time.Time) model.Event {
	ev.ExcludedDates = slices.Clone(ev.ExcludedDates)
	if !created.IsZero() {
		ev.CreatedAt = created
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	return ev
}
