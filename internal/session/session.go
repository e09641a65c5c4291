// Package session owns everything one calendar view needs at runtime: the
// store subscriptions, the latest snapshot of both collections, the
// canonical occurrence set, the active filter and the selection.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	appLog "appdate/internal/log"
	"appdate/internal/filter"
	"appdate/internal/metrics"
	"appdate/internal/model"
	"appdate/internal/reconcile"
	"appdate/internal/recurrence"
	"appdate/internal/selection"
	"appdate/internal/store"
)

var (
	ErrNotRecurring = errors.New("event is not recurring")
	ErrInvalidDate  = errors.New("invalid date")
)

// Options configures a Session.
type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	MaxBatch  int
	Metrics   *metrics.Manager
	Now       func() time.Time
}

// Filter is the user controlled part of the filter configuration.
type Filter struct {
	Category filter.Category `json:"category"`
	Search   string          `json:"search,omitempty"`
	// Range nil means the rolling list view.
	Range *filter.Range `json:"range,omitempty"`
}

// ViewListener is called with every new view, outside the session lock.
type ViewListener func(filter.View)

// Session serialises snapshot handling and recomputes the view on every
// delivery. Writes go to the store; the view only changes when the store
// pushes the resulting snapshot back.
type Session struct {
	store     store.Store
	expander  *recurrence.Expander
	metrics   *metrics.Manager
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
	selection *selection.Controller

	// lifecycle serialises Start and Close. It is never held by snapshot
	// delivery, so subscribing under it cannot deadlock with onSnapshot.
	lifecycle sync.Mutex

	mu        sync.Mutex
	snap      model.Snapshot
	received  map[model.Collection]bool
	canonical reconcile.Result
	filter    Filter
	view      filter.View
	version   uint64
	listeners map[int]ViewListener
	nextID    int
	unsubs    []func()
	ready     chan struct{}
}

// New returns an unstarted session on s.
func New(s store.Store, opts Options) *Session {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		store:     s,
		expander:  &recurrence.Expander{Location: loc, Now: now},
		metrics:   opts.Metrics,
		loc:       loc,
		weekStart: opts.WeekStart,
		now:       now,
		selection: selection.New(opts.MaxBatch),
		received:  make(map[model.Collection]bool),
		filter:    Filter{Category: filter.CategoryAll},
		listeners: make(map[int]ViewListener),
		ready:     make(chan struct{}),
	}
}

// Start subscribes to both collections. Either both subscriptions are
// live afterwards or neither is.
func (s *Session) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	started := len(s.unsubs) > 0
	s.mu.Unlock()
	if started {
		return nil
	}

	var unsubs []func()
	for _, c := range model.Collections {
		unsub, err := s.store.Subscribe(c, func(events []model.Event) {
			s.onSnapshot(c, events)
		})
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("subscribe %s: %w", c, err)
		}
		unsubs = append(unsubs, unsub)
	}

	s.mu.Lock()
	s.unsubs = unsubs
	s.mu.Unlock()
	appLog.Info("session started", "location", s.loc.String())
	return nil
}

// Close cancels both subscriptions together.
func (s *Session) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Ready is closed once both collections have been delivered at least once.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until Ready or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnView registers fn for every new view and returns a function removing
// it.
func (s *Session) OnView(fn ViewListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) onSnapshot(c model.Collection, events []model.Event) {
	s.mu.Lock()
	switch c {
	case model.CollectionManual:
		s.snap.Manual = events
	case model.CollectionSynced:
		s.snap.Synced = events
	}
	wasReady := len(s.received) == len(model.Collections)
	s.received[c] = true
	if !wasReady && len(s.received) == len(model.Collections) {
		close(s.ready)
	}
	view, listeners := s.recomputeLocked()
	s.mu.Unlock()

	notify(view, listeners)
}

// recomputeLocked rebuilds the canonical set and the view. The caller
// holds s.mu.
func (s *Session) recomputeLocked() (filter.View, []ViewListener) {
	start := time.Now()
	s.canonical = reconcile.FromSnapshot(s.expander, s.snap)
	s.view = filter.Apply(s.canonical.Occurrences, s.filterConfigLocked(s.filter))
	s.version++

	s.metrics.ObserveRecompute(metrics.Recompute{
		Duration:    time.Since(start),
		Manual:      len(s.snap.Manual),
		Synced:      len(s.snap.Synced),
		Occurrences: len(s.canonical.Occurrences),
		Collisions:  s.canonical.Collisions,
		Truncated:   len(s.canonical.Truncated),
	})
	appLog.Debug("session recomputed",
		"version", s.version,
		"manual", len(s.snap.Manual),
		"synced", len(s.snap.Synced),
		"occurrences", len(s.canonical.Occurrences),
		"visible", s.view.Total,
	)

	listeners := make([]ViewListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return s.view, listeners
}

func notify(view filter.View, listeners []ViewListener) {
	for _, fn := range listeners {
		fn(view)
	}
}

func (s *Session) filterConfigLocked(f Filter) filter.Config {
	return filter.Config{
		Category: f.Category,
		Search:   f.Search,
		Range:    f.Range,
		Now:      s.now(),
		Location: s.loc,
	}
}

// View returns the current view.
func (s *Session) View() filter.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Version counts recomputes; it only grows.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// SetFilter replaces the active filter and returns the new view.
func (s *Session) SetFilter(f Filter) filter.View {
	if f.Category == "" {
		f.Category = filter.CategoryAll
	}
	s.mu.Lock()
	s.filter = f
	s.view = filter.Apply(s.canonical.Occurrences, s.filterConfigLocked(f))
	view := s.view
	listeners := make([]ViewListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	notify(view, listeners)
	return view
}

// ResolveRange turns an overview range name into dates. For
// filter.RangeCustom from and to are used.
func (s *Session) ResolveRange(kind filter.RangeKind, from, to string) (filter.Range, error) {
	if kind == filter.RangeCustom {
		return filter.CustomRange(from, to)
	}
	return filter.RangeFor(kind, s.now().In(s.loc), s.weekStart)
}

// Query applies f to the canonical set without changing the active filter.
func (s *Session) Query(f Filter) filter.View {
	if f.Category == "" {
		f.Category = filter.CategoryAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return filter.Apply(s.canonical.Occurrences, s.filterConfigLocked(f))
}

// Overview applies the active category and search to a bounded range
// without changing the active filter.
func (s *Session) Overview(kind filter.RangeKind, from, to string) (filter.View, error) {
	rng, err := s.ResolveRange(kind, from, to)
	if err != nil {
		return filter.View{}, err
	}
	f := s.Filter()
	f.Range = &rng
	return s.Query(f), nil
}

// Refresh recomputes with the current clock, for the day rollover of the
// rolling view and for open-ended series.
func (s *Session) Refresh() filter.View {
	s.mu.Lock()
	view, listeners := s.recomputeLocked()
	s.mu.Unlock()
	notify(view, listeners)
	return view
}

// Snapshot returns the latest raw events of both collections.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Occurrences returns the canonical set in no particular order.
func (s *Session) Occurrences() []model.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.canonical.Occurrences)
}

func (s *Session) Selection() *selection.Controller {
	return s.selection
}

// CommitSelection deletes the selected events. The snapshot is read under
// the lock; the store is called without holding it.
func (s *Session) CommitSelection(ctx context.Context) selection.Result {
	snap := s.Snapshot()
	res := s.selection.CommitDelete(ctx, s.store, snap)
	s.metrics.AddDeleted(len(res.Succeeded), len(res.Failed))
	return res
}

// Save creates ev in the manual collection when it has no id, or updates
// the existing record in whichever collection holds it, keeping its
// source.
func (s *Session) Save(ctx context.Context, ev model.Event) (model.Event, error) {
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	if ev.Recurrence.Recurring() && ev.RecurrenceInterval < 1 {
		ev.RecurrenceInterval = 1
	}

	if ev.ID == "" {
		ev.Source = model.SourceManual
		ev.CreatedAt = time.Time{}
		return s.store.Create(ctx, model.CollectionManual, ev)
	}

	existing, coll, ok := s.Snapshot().Find(ev.ID)
	if !ok {
		return model.Event{}, fmt.Errorf("save %s: %w", ev.ID, store.ErrNotFound)
	}
	ev.Source = existing.Source
	ev.ExternalID = existing.ExternalID
	ev.CreatedAt = existing.CreatedAt
	if ev.ExcludedDates == nil {
		ev.ExcludedDates = existing.ExcludedDates
	}
	return s.store.Update(ctx, coll, ev)
}

// DeleteSeries removes the raw event from both collections. A missing id
// is not an error.
func (s *Session) DeleteSeries(ctx context.Context, id string) error {
	var errs []error
	for _, c := range model.Collections {
		if err := s.store.Delete(ctx, c, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s from %s: %w", id, c, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteInstance removes one occurrence of a series by adding its date to
// the excluded dates.
func (s *Session) DeleteInstance(ctx context.Context, id, date string) (model.Event, error) {
	if _, err := time.Parse(model.LayoutDate, date); err != nil {
		return model.Event{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, date, err)
	}
	ev, coll, ok := s.Snapshot().Find(id)
	if !ok {
		return model.Event{}, fmt.Errorf("delete instance %s: %w", id, store.ErrNotFound)
	}
	if !ev.Recurrence.Recurring() {
		return model.Event{}, ErrNotRecurring
	}
	return s.store.Update(ctx, coll, ev.Excluding(date))
}
