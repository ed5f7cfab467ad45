package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/bridge"
	"github.com/loykin/alfred/internal/config"
	"github.com/loykin/alfred/internal/logger"
	"github.com/loykin/alfred/internal/server"
	"github.com/loykin/alfred/internal/supervisor"
)

type stubSupervisor struct {
	state supervisor.State
	err   error
}

func (s *stubSupervisor) EnsureRunning(context.Context) (supervisor.Snapshot, error) {
	if s.err != nil {
		s.state = supervisor.Failed
		return supervisor.Snapshot{State: s.state, LastError: s.err.Error()}, s.err
	}
	s.state = supervisor.Ready
	return supervisor.Snapshot{State: s.state, Message: "Alfred backend is ready", Handle: &supervisor.Handle{PID: 4242, Owned: true}}, nil
}

func (s *stubSupervisor) Restart(ctx context.Context) (supervisor.Snapshot, error) {
	return s.EnsureRunning(ctx)
}

func (s *stubSupervisor) Stop(context.Context) supervisor.Snapshot {
	s.state = supervisor.Idle
	return supervisor.Snapshot{State: s.state}
}

func (s *stubSupervisor) Snapshot() supervisor.Snapshot { return supervisor.Snapshot{State: s.state} }

// execute runs the CLI against a control API backed by sup and backendURL.
func execute(t *testing.T, sup bridge.Supervisor, backendURL string, args ...string) (string, error) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if backendURL == "" {
		backendURL = "http://127.0.0.1:1"
	}
	b := bridge.New(sup, backend.New(backend.Config{BaseURL: backendURL}), nil, nil)
	api := httptest.NewServer(server.NewRouter(b, "/api").Handler())
	t.Cleanup(api.Close)

	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api-url", api.URL + "/api"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestHelpMentionsCommands(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	for _, name := range []string{"serve", "status", "check", "restart", "stop", "ask", "chat"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestStatusCheckStop(t *testing.T) {
	sup := &stubSupervisor{}
	out, err := execute(t, sup, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "state:   Idle")

	out, err = execute(t, sup, "", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "state:   Ready")
	assert.Contains(t, out, "backend: pid 4242 (owned)")

	out, err = execute(t, sup, "", "stop", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "Idle"`)
}

func TestRestartFailureReturnsError(t *testing.T) {
	out, err := execute(t, &stubSupervisor{err: errors.New("retry budget exhausted")}, "", "restart")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart failed: retry budget exhausted")
	assert.Contains(t, out, "state:   Failed")
}

func TestAskPrintsAnswer(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	be := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"Forty-two.","sources":["guide.md"]}`))
	}))
	defer be.Close()

	out, err := execute(t, &stubSupervisor{}, be.URL, "ask", "what", "is", "the", "answer?")
	require.NoError(t, err)
	assert.Contains(t, out, "Forty-two.")
	assert.Contains(t, out, "Sources: guide.md")
}

func TestAskSurfacesApplicationError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	be := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"model not loaded"}`))
	}))
	defer be.Close()

	out, err := execute(t, &stubSupervisor{}, be.URL, "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.NotContains(t, out, "hello")
}

func TestAskWhenBackendFails(t *testing.T) {
	_, err := execute(t, &stubSupervisor{err: errors.New("Alfred backend failed to start after 3 attempts")}, "", "ask", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend is not ready (Failed)")
}

func TestCommandsWithoutServer(t *testing.T) {
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--api-url", "http://127.0.0.1:1/api", "--api-timeout", "1s", "status"})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, errNotServing)
}

func TestServeStartsAndShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.LockFile = filepath.Join(t.TempDir(), "serve.lock")
	cfg.Supervisor.AutoStart = false
	cfg.Metrics.Enabled = false
	cfg.Log = logger.Options{Level: "error"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, &cfg) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeRefusesSecondInstance(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "serve.lock")
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.LockFile = lockPath
	cfg.Supervisor.AutoStart = false
	cfg.Metrics.Enabled = false
	cfg.Log = logger.Options{Level: "error"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, &cfg) }()
	time.Sleep(100 * time.Millisecond)

	second := cfg
	err := runServe(context.Background(), &second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another alfred serve")

	cancel()
	require.NoError(t, <-done)
}
