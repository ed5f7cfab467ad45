// Package bridge is the capability set handed to the UI side of the control
// API. It can ask the supervisor to check, restart or stop the backend and can
// proxy requests to it, but it never spawns or signals a process itself.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/relay"
	"github.com/loykin/alfred/internal/supervisor"
)

// ErrInvalidPath is returned for proxied requests that do not target a backend path.
var ErrInvalidPath = errors.New("backend path must start with '/'")

// Supervisor is the part of *supervisor.Supervisor the bridge relies on.
type Supervisor interface {
	EnsureRunning(ctx context.Context) (supervisor.Snapshot, error)
	Restart(ctx context.Context) (supervisor.Snapshot, error)
	Stop(ctx context.Context) supervisor.Snapshot
	Snapshot() supervisor.Snapshot
}

// Doer performs one backend request. *backend.Client implements it.
type Doer interface {
	Do(ctx context.Context, r backend.Request) (backend.Response, error)
}

type Bridge struct {
	sup    Supervisor
	client Doer
	fanout *relay.Fanout
	logger *slog.Logger
}

// New wires the capability set. fanout may be nil when no event stream is served.
func New(sup Supervisor, client Doer, fanout *relay.Fanout, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{sup: sup, client: client, fanout: fanout, logger: logger}
}

// CheckServer makes sure the backend is running and ready.
func (b *Bridge) CheckServer(ctx context.Context) (supervisor.Snapshot, error) {
	b.logger.Debug("check server requested")
	return b.sup.EnsureRunning(ctx)
}

// RestartBackend performs a full stop followed by a fresh start.
func (b *Bridge) RestartBackend(ctx context.Context) (supervisor.Snapshot, error) {
	b.logger.Info("restart requested")
	return b.sup.Restart(ctx)
}

// StopBackend stops supervision. It never fails.
func (b *Bridge) StopBackend(ctx context.Context) supervisor.Snapshot {
	b.logger.Info("stop requested")
	return b.sup.Stop(ctx)
}

func (b *Bridge) Status() supervisor.Snapshot { return b.sup.Snapshot() }

// Request proxies one call to the backend. Only transport failures are
// errors; application errors stay in the response.
func (b *Bridge) Request(ctx context.Context, r backend.Request) (backend.Response, error) {
	if !strings.HasPrefix(r.Path, "/") || strings.Contains(r.Path, "://") {
		return backend.Response{}, ErrInvalidPath
	}
	return b.client.Do(ctx, r)
}

// Subscribe attaches to the notification and status streams. The returned
// function detaches. Without a fanout the channel is closed immediately.
func (b *Bridge) Subscribe() (<-chan relay.Event, func()) {
	if b.fanout == nil {
		ch := make(chan relay.Event)
		close(ch)
		return ch, func() {}
	}
	return b.fanout.Subscribe()
}
