package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/relay"
	"github.com/loykin/alfred/internal/supervisor"
)

type fakeSupervisor struct {
	calls []string
	state supervisor.State
}

func (f *fakeSupervisor) EnsureRunning(context.Context) (supervisor.Snapshot, error) {
	f.calls = append(f.calls, "ensure")
	f.state = supervisor.Ready
	return supervisor.Snapshot{State: f.state}, nil
}

func (f *fakeSupervisor) Restart(context.Context) (supervisor.Snapshot, error) {
	f.calls = append(f.calls, "restart")
	f.state = supervisor.Ready
	return supervisor.Snapshot{State: f.state}, nil
}

func (f *fakeSupervisor) Stop(context.Context) supervisor.Snapshot {
	f.calls = append(f.calls, "stop")
	f.state = supervisor.Idle
	return supervisor.Snapshot{State: f.state}
}

func (f *fakeSupervisor) Snapshot() supervisor.Snapshot { return supervisor.Snapshot{State: f.state} }

func TestBridge_DelegatesLifecycle(t *testing.T) {
	sup := &fakeSupervisor{}
	b := New(sup, backend.New(backend.Config{}), nil, nil)
	ctx := context.Background()

	snap, err := b.CheckServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, supervisor.Ready, snap.State)
	_, err = b.RestartBackend(ctx)
	require.NoError(t, err)
	assert.Equal(t, supervisor.Idle, b.StopBackend(ctx).State)
	assert.Equal(t, supervisor.Idle, b.Status().State)
	assert.Equal(t, []string{"ensure", "restart", "stop"}, sup.calls)
}

func TestBridge_RequestProxiesApplicationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "model not loaded"})
	}))
	defer srv.Close()

	b := New(&fakeSupervisor{}, backend.New(backend.Config{BaseURL: srv.URL}), nil, nil)
	resp, err := b.Request(context.Background(), backend.Request{Method: http.MethodPost, Path: "/query", Body: map[string]string{"question": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var appErr *backend.ApplicationError
	require.ErrorAs(t, resp.Err(), &appErr)
	assert.Equal(t, "model not loaded", appErr.Message)
}

func TestBridge_RequestRejectsForeignTargets(t *testing.T) {
	b := New(&fakeSupervisor{}, backend.New(backend.Config{}), nil, nil)
	for _, p := range []string{"", "query", "http://example.com/x"} {
		_, err := b.Request(context.Background(), backend.Request{Path: p})
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestBridge_SubscribeReceivesRelayedEvents(t *testing.T) {
	bus := relay.NewBus(8)
	fan := relay.NewFanout(bus, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fan.Run(ctx)

	b := New(&fakeSupervisor{}, backend.New(backend.Config{}), fan, nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	bus.Notify(relay.KindSuccess, "Alfred backend is ready")
	select {
	case ev := <-events:
		require.Equal(t, relay.EventNotification, ev.Type)
		assert.Equal(t, "Alfred backend is ready", ev.Notification.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestBridge_SubscribeWithoutFanout(t *testing.T) {
	b := New(&fakeSupervisor{}, backend.New(backend.Config{}), nil, nil)
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()
	_, ok := <-events
	assert.False(t, ok)
}
