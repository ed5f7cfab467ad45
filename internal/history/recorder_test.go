package history

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db down")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestRecorder_DeliversInOrderAndCloses(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 8, nil)
	r.Record(Event{Type: EventSpawn, PID: 10})
	r.Record(Event{Type: EventReady, PID: 10})
	r.Record(Event{Type: EventStop, PID: 10})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sink.events) != 3 || sink.events[0].Type != EventSpawn || sink.events[2].Type != EventStop {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
	if sink.events[0].OccurredAt.IsZero() {
		t.Fatalf("OccurredAt should be stamped")
	}
	if !sink.closed {
		t.Fatalf("sink should be closed")
	}
	// after close records are ignored
	r.Record(Event{Type: EventSpawn})
	_ = r.Close()
}

func TestRecorder_SinkErrorsDoNotStop(t *testing.T) {
	sink := &memSink{fail: true}
	r := NewRecorder(sink, 4, nil)
	r.Record(Event{Type: EventFailed})
	r.Record(Event{Type: EventFailed})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("failing sink should store nothing")
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.Record(Event{Type: EventSpawn})
	if _, ok, err := r.List(context.Background(), 5); ok || err != nil {
		t.Fatalf("nil recorder should not list")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
