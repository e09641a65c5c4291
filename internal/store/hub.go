package store

import (
	"sync"

	"appdate/internal/model"
)

// hub fans collection snapshots out to subscribers. Each subscriber has a
// one-slot mailbox and its own delivery goroutine, so a slow listener never
// blocks a writer and a listener may call back into the store.
type hub struct {
	mu     sync.Mutex
	subs   map[model.Collection]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	fn      Listener
	mailbox chan []model.Event
	done    chan struct{}
	once    sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[model.Collection]map[*subscriber]struct{})}
}

// subscribe registers fn and queues current as its first delivery.
func (h *hub) subscribe(c model.Collection, fn Listener, current []model.Event) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &subscriber{
		fn:      fn,
		mailbox: make(chan []model.Event, 1),
		done:    make(chan struct{}),
	}
	if h.subs[c] == nil {
		h.subs[c] = make(map[*subscriber]struct{})
	}
	h.subs[c][sub] = struct{}{}
	sub.offer(current)
	go sub.run()

	return func() {
		h.mu.Lock()
		delete(h.subs[c], sub)
		h.mu.Unlock()
		sub.stop()
	}, nil
}

// publish hands events to every subscriber of c. Callers serialise publish
// calls per collection so mailboxes only ever move forward.
func (h *hub) publish(c model.Collection, events []model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[c] {
		sub.offer(clone(events))
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c, subs := range h.subs {
		for sub := range subs {
			sub.stop()
		}
		delete(h.subs, c)
	}
}

// offer replaces any undelivered snapshot with events.
func (s *subscriber) offer(events []model.Event) {
	for {
		select {
		case s.mailbox <- events:
			return
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case events := <-s.mailbox:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(events)
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}
