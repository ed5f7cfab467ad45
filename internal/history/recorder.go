package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const sendTimeout = 5 * time.Second

// Recorder queues events and writes them to a Sink from its own goroutine so
// a slow or broken database never stalls supervision. A nil Recorder is valid
// and discards everything.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewRecorder(sink Sink, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{sink: sink, logger: logger, queue: make(chan Event, buffer), done: make(chan struct{})}
	go r.loop()
	return r
}

// Record enqueues e. It never blocks; on overflow the event is dropped and logged.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, event dropped", "type", e.Type)
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.logger.Warn("history sink write failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// List reads back recent events when the sink supports it.
func (r *Recorder) List(ctx context.Context, limit int) ([]Event, bool, error) {
	if r == nil {
		return nil, false, nil
	}
	l, ok := r.sink.(Lister)
	if !ok {
		return nil, false, nil
	}
	events, err := l.List(ctx, limit)
	return events, true, err
}

// Close drains queued events and closes the sink if it is an io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
