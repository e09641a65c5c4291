package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"appdate/internal/model"
)

// Memory is a process-local Store. Records keep insertion order.
type Memory struct {
	mu     sync.Mutex
	data   map[model.Collection][]model.Event
	hub    *hub
	opts   options
	closed bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		data: make(map[model.Collection][]model.Event),
		hub:  newHub(),
		opts: applyOptions(opts),
	}
}

func (m *Memory) Subscribe(c model.Collection, fn Listener) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.hub.subscribe(c, fn, clone(m.data[c]))
}

func (m *Memory) List(ctx context.Context, c model.Collection) ([]model.Event, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return clone(m.data[c]), nil
}

func (m *Memory) Get(ctx context.Context, c model.Collection, id string) (model.Event, error) {
	if err := m.begin(ctx); err != nil {
		return model.Event{}, err
	}
	defer m.mu.Unlock()
	i := m.index(c, id)
	if i < 0 {
		return model.Event{}, fmt.Errorf("get %s/%s: %w", c, id, ErrNotFound)
	}
	return clone(m.data[c][i : i+1])[0], nil
}

func (m *Memory) Create(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error) {
	if err := m.begin(ctx); err != nil {
		return model.Event{}, err
	}
	defer m.mu.Unlock()
	created, err := m.insert(c, ev)
	if err != nil {
		return model.Event{}, err
	}
	m.publish(c)
	return created, nil
}

func (m *Memory) Update(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		return model.Event{}, ErrNoID
	}
	if err := m.begin(ctx); err != nil {
		return model.Event{}, err
	}
	defer m.mu.Unlock()
	i := m.index(c, ev.ID)
	if i < 0 {
		return model.Event{}, fmt.Errorf("update %s/%s: %w", c, ev.ID, ErrNotFound)
	}
	ev = stamp(ev, m.data[c][i].CreatedAt, m.opts.now())
	m.data[c][i] = ev
	m.publish(c)
	return ev, nil
}

func (m *Memory) Upsert(ctx context.Context, c model.Collection, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		return model.Event{}, ErrNoID
	}
	if err := m.begin(ctx); err != nil {
		return model.Event{}, err
	}
	defer m.mu.Unlock()
	if i := m.index(c, ev.ID); i >= 0 {
		ev = stamp(ev, m.data[c][i].CreatedAt, m.opts.now())
		m.data[c][i] = ev
	} else {
		ev = stamp(ev, ev.CreatedAt, m.opts.now())
		m.data[c] = append(m.data[c], ev)
	}
	m.publish(c)
	return ev, nil
}

func (m *Memory) Delete(ctx context.Context, c model.Collection, id string) error {
	return m.DeleteBatch(ctx, c, []string{id})
}

func (m *Memory) CreateBatch(ctx context.Context, c model.Collection, evs []model.Event) ([]model.Event, error) {
	if len(evs) > MaxBatchOps {
		return nil, fmt.Errorf("create %d events: %w", len(evs), ErrBatchTooLarge)
	}
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	before := len(m.data[c])
	out := make([]model.Event, 0, len(evs))
	for _, ev := range evs {
		created, err := m.insert(c, ev)
		if err != nil {
			m.data[c] = m.data[c][:before]
			return nil, err
		}
		out = append(out, created)
	}
	if len(out) > 0 {
		m.publish(c)
	}
	return out, nil
}

func (m *Memory) DeleteBatch(ctx context.Context, c model.Collection, ids []string) error {
	if len(ids) > MaxBatchOps {
		return fmt.Errorf("delete %d events: %w", len(ids), ErrBatchTooLarge)
	}
	if err := m.begin(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	before := len(m.data[c])
	m.data[c] = slices.DeleteFunc(m.data[c], func(ev model.Event) bool {
		return slices.Contains(ids, ev.ID)
	})
	if len(m.data[c]) != before {
		m.publish(c)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.hub.close()
	return nil
}

// begin locks m after checking ctx and the closed flag. On success the
// caller owns the lock.
func (m *Memory) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (m *Memory) index(c model.Collection, id string) int {
	return slices.IndexFunc(m.data[c], func(ev model.Event) bool { return ev.ID == id })
}

func (m *Memory) insert(c model.Collection, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = m.opts.newID()
	} else if m.index(c, ev.ID) >= 0 {
		return model.Event{}, fmt.Errorf("create %s/%s: %w", c, ev.ID, ErrExists)
	}
	ev = stamp(ev, ev.CreatedAt, m.opts.now())
	m.data[c] = append(m.data[c], ev)
	return ev, nil
}

// publish runs under m.mu, which orders snapshots per collection.
func (m *Memory) publish(c model.Collection) {
	m.hub.publish(c, m.data[c])
}
