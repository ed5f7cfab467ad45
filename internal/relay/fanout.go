package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loykin/alfred/internal/metrics"
)

// Fanout drains a Bus and broadcasts every event to all current subscribers.
// A new subscriber first receives the latest status so it can render state
// without waiting for the next transition.
type Fanout struct {
	bus    *Bus
	buffer int
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	last        *StatusEvent
	closed      bool
}

func NewFanout(bus *Bus, buffer int, logger *slog.Logger) *Fanout {
	if buffer <= 0 {
		buffer = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{bus: bus, buffer: buffer, logger: logger, subscribers: make(map[int]chan Event)}
}

// Subscribe returns an event channel and a function that releases it.
func (f *Fanout) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Event, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.last != nil {
		st := *f.last
		ch <- Event{Type: EventStatus, Status: &st}
	}
	f.nextID++
	id := f.nextID
	f.subscribers[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subscribers[id]; ok {
			close(c)
			delete(f.subscribers, id)
		}
	}
}

func (f *Fanout) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Run forwards events until ctx is done or both bus channels are closed, then
// closes every subscriber channel.
func (f *Fanout) Run(ctx context.Context) {
	defer f.close()
	notifications := f.bus.Notifications()
	statuses := f.bus.Statuses()
	for notifications != nil || statuses != nil {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			f.broadcast(Event{Type: EventNotification, Notification: &n})
		case s, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			f.mu.Lock()
			last := s
			f.last = &last
			f.mu.Unlock()
			f.broadcast(Event{Type: EventStatus, Status: &s})
		}
	}
}

func (f *Fanout) broadcast(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
			metrics.IncRelayDropped(ChannelSubscriber)
			f.logger.Warn("subscriber too slow, event dropped", "subscriber", id, "type", ev.Type)
		}
	}
}

func (f *Fanout) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}
