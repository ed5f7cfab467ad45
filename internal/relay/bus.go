// Package relay carries supervisor notifications and status events to UI
// consumers over bounded FIFO channels. Publishing never blocks the producer.
package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/alfred/internal/metrics"
)

const (
	DefaultCapacity = 64

	ChannelNotifications = "notifications"
	ChannelStatuses      = "statuses"
	ChannelSubscriber    = "subscriber"
)

// Bus owns two independent channels. Order is FIFO within a channel; there is
// no ordering between the two.
type Bus struct {
	mu            sync.RWMutex
	closed        bool
	notifications chan Notification
	statuses      chan StatusEvent
	logger        *slog.Logger
	now           func() time.Time
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option { return func(b *Bus) { b.logger = l } }

// NewBus creates a bus whose channels each buffer capacity events.
func NewBus(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		notifications: make(chan Notification, capacity),
		statuses:      make(chan StatusEvent, capacity),
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) Notifications() <-chan Notification { return b.notifications }
func (b *Bus) Statuses() <-chan StatusEvent       { return b.statuses }

// Notify publishes a notification. It reports false when the event was dropped.
func (b *Bus) Notify(kind Kind, message string) bool {
	return b.PublishNotification(Notification{Kind: kind, Message: message})
}

func (b *Bus) PublishNotification(n Notification) bool {
	if n.At.IsZero() {
		n.At = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.notifications <- n:
		return true
	default:
		b.dropped(ChannelNotifications, "kind", n.Kind, "message", n.Message)
		return false
	}
}

func (b *Bus) PublishStatus(s StatusEvent) bool {
	if s.At.IsZero() {
		s.At = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.statuses <- s:
		return true
	default:
		b.dropped(ChannelStatuses, "state", s.State, "message", s.Message)
		return false
	}
}

func (b *Bus) dropped(channel string, attrs ...any) {
	metrics.IncRelayDropped(channel)
	b.logger.Warn("relay channel full, event dropped", append([]any{"channel", channel}, attrs...)...)
}

// Close closes both channels. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notifications)
	close(b.statuses)
}
