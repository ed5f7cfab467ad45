// Package readiness polls the backend health endpoint until the composite
// readiness check passes or a bounded number of attempts is spent.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/alfred/internal/health"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// ErrTimeout means the gate spent all attempts without seeing a ready backend.
var ErrTimeout = errors.New("backend did not become ready in time")

// Prober performs one health probe. A non-nil error means unreachable.
type Prober interface {
	Health(ctx context.Context) (health.Status, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (health.Status, error)

func (f ProberFunc) Health(ctx context.Context) (health.Status, error) { return f(ctx) }

// Progress is reported after every poll that did not end the loop.
type Progress struct {
	Attempt     int
	MaxAttempts int
	Status      health.Status
	Message     string
}

// Result describes how the gate finished.
type Result struct {
	Ready    bool
	Attempts int
	Status   health.Status
	Elapsed  time.Duration
}

// Config bounds the poll loop.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Gate is a single-use or reusable poller; it holds no per-run state.
type Gate struct {
	prober      Prober
	clock       Clock
	interval    time.Duration
	maxAttempts int
	onProgress  func(Progress)
	onPoll      func(health.Status)
	logger      *slog.Logger
}

type Option func(*Gate)

func WithClock(c Clock) Option { return func(g *Gate) { g.clock = c } }

// WithProgress registers a callback invoked after each unsuccessful poll.
func WithProgress(fn func(Progress)) Option { return func(g *Gate) { g.onProgress = fn } }

// WithPollObserver registers a callback invoked with every probe outcome.
func WithPollObserver(fn func(health.Status)) Option { return func(g *Gate) { g.onPoll = fn } }

func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.logger = l } }

func New(p Prober, cfg Config, opts ...Option) *Gate {
	g := &Gate{
		prober:      p,
		clock:       RealClock{},
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		logger:      slog.Default(),
	}
	if g.interval <= 0 {
		g.interval = DefaultInterval
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Ceiling is the nominal upper bound of a run, excluding probe latency.
func (g *Gate) Ceiling() time.Duration {
	return time.Duration(g.maxAttempts) * g.interval
}

// Run polls until ready, until abort returns an error, until ctx is done, or
// until MaxAttempts polls have been made, in which case ErrTimeout is returned.
// abort may be nil; it is consulted after every poll.
func (g *Gate) Run(ctx context.Context, abort func() error) (Result, error) {
	start := time.Now()
	var res Result
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
		st, err := g.prober.Health(ctx)
		if err != nil {
			st = health.UnreachableStatus()
		}
		res.Attempts = attempt
		res.Status = st
		if g.onPoll != nil {
			g.onPoll(st)
		}
		if abort != nil {
			if err := abort(); err != nil {
				res.Elapsed = time.Since(start)
				return res, err
			}
		}
		if st.Ready() {
			res.Ready = true
			res.Elapsed = time.Since(start)
			g.logger.Debug("backend ready", "attempt", attempt, "overall", st.Overall)
			return res, nil
		}
		msg := Message(attempt, st)
		g.logger.Debug("backend not ready", "attempt", attempt, "max_attempts", g.maxAttempts, "overall", st.Overall, "error", err)
		if g.onProgress != nil {
			g.onProgress(Progress{Attempt: attempt, MaxAttempts: g.maxAttempts, Status: st, Message: msg})
		}
		if attempt == g.maxAttempts {
			break
		}
		if err := g.clock.Sleep(ctx, g.interval); err != nil {
			res.Elapsed = time.Since(start)
			return res, err
		}
	}
	res.Elapsed = time.Since(start)
	return res, fmt.Errorf("%w after %d attempts", ErrTimeout, res.Attempts)
}

// Message is the user-facing progress line for a poll that was not ready.
func Message(attempt int, st health.Status) string {
	switch st.Pending() {
	case health.ComponentStatus:
		return "Alfred backend reports unhealthy, waiting"
	case health.ComponentCore:
		return "Initializing Alfred core..."
	case health.ComponentIndex:
		return "Loading document index..."
	}
	if st.Ready() {
		return ReadyMessage
	}
	if attempt < 1 {
		attempt = 1
	}
	return "Starting Alfred backend" + strings.Repeat(".", (attempt-1)%3+1)
}

const (
	ReadyMessage   = "Alfred backend is ready"
	TimeoutMessage = "Alfred backend did not become ready in time. Restart it manually."
)
