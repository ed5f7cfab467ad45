package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/alfred/internal/health"
)

type fakeClock struct {
	mu     sync.Mutex
	slept  []time.Duration
	onCall func(n int)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	n := len(c.slept)
	c.mu.Unlock()
	if c.onCall != nil {
		c.onCall(n)
	}
	return ctx.Err()
}

var errRefused = errors.New("connection refused")

// scripted returns each outcome in order and repeats the last one.
type scripted struct {
	mu    sync.Mutex
	steps []func() (health.Status, error)
	calls int
}

func (s *scripted) Health(context.Context) (health.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i]()
}

func unreachable() (health.Status, error) { return health.UnreachableStatus(), errRefused }

func report(status string, core, index bool) func() (health.Status, error) {
	return func() (health.Status, error) {
		return health.Classify(health.Report{Status: status, CoreInitialized: core, IndexLoaded: index}), nil
	}
}

func TestRun_ReadyOnFourthPollAfterUnreachable(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){
		unreachable, unreachable, unreachable, report("degraded", true, true),
	}}
	clk := &fakeClock{}
	var progress []Progress
	g := New(p, Config{Interval: 2 * time.Second, MaxAttempts: 60},
		WithClock(clk),
		WithProgress(func(pr Progress) { progress = append(progress, pr) }))

	res, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, health.Degraded, res.Status.Overall)
	assert.Equal(t, 4, p.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, clk.slept)

	require.Len(t, progress, 3)
	assert.Equal(t, "Starting Alfred backend.", progress[0].Message)
	assert.Equal(t, "Starting Alfred backend..", progress[1].Message)
	assert.Equal(t, "Starting Alfred backend...", progress[2].Message)
	assert.Equal(t, 60, progress[2].MaxAttempts)
}

func TestRun_NeverReadyWithFalseFlag(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){report("healthy", true, false)}}
	g := New(p, Config{Interval: time.Second, MaxAttempts: 5}, WithClock(&fakeClock{}))

	res, err := g.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, res.Ready)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, p.calls)
}

func TestRun_UnhealthyIsNeverReady(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){report("unhealthy", true, true)}}
	var msgs []string
	g := New(p, Config{Interval: time.Second, MaxAttempts: 2},
		WithClock(&fakeClock{}),
		WithProgress(func(pr Progress) { msgs = append(msgs, pr.Message) }))
	_, err := g.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, []string{"Alfred backend reports unhealthy, waiting", "Alfred backend reports unhealthy, waiting"}, msgs)
}

func TestRun_ProgressNamesFirstUnmetComponent(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){
		report("healthy", false, false),
		report("healthy", true, false),
		report("healthy", true, true),
	}}
	var msgs []string
	g := New(p, Config{Interval: time.Second, MaxAttempts: 10},
		WithClock(&fakeClock{}),
		WithProgress(func(pr Progress) { msgs = append(msgs, pr.Message) }))
	res, err := g.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"Initializing Alfred core...", "Loading document index..."}, msgs)
}

func TestRun_AbortEndsLoop(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){unreachable}}
	errStopped := errors.New("superseded")
	polls := 0
	g := New(p, Config{Interval: time.Second, MaxAttempts: 60}, WithClock(&fakeClock{}))
	res, err := g.Run(context.Background(), func() error {
		polls++
		if polls == 2 {
			return errStopped
		}
		return nil
	})
	assert.ErrorIs(t, err, errStopped)
	assert.False(t, res.Ready)
	assert.Equal(t, 2, res.Attempts)
}

func TestRun_AbortWinsOverReady(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){report("healthy", true, true)}}
	errStopped := errors.New("superseded")
	g := New(p, Config{}, WithClock(&fakeClock{}))
	res, err := g.Run(context.Background(), func() error { return errStopped })
	assert.ErrorIs(t, err, errStopped)
	assert.False(t, res.Ready)
}

func TestRun_ContextCancelled(t *testing.T) {
	p := &scripted{steps: []func() (health.Status, error){unreachable}}
	ctx, cancel := context.WithCancel(context.Background())
	clk := &fakeClock{onCall: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	g := New(p, Config{Interval: time.Second, MaxAttempts: 60}, WithClock(clk))
	res, err := g.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, res.Attempts)
}

func TestNew_DefaultsAndCeiling(t *testing.T) {
	g := New(ProberFunc(unreachableCtx), Config{})
	assert.Equal(t, DefaultInterval, g.interval)
	assert.Equal(t, DefaultMaxAttempts, g.maxAttempts)
	assert.Equal(t, 2*time.Minute, g.Ceiling())
}

func unreachableCtx(context.Context) (health.Status, error) { return unreachable() }

func TestRealClock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, RealClock{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, RealClock{}.Sleep(context.Background(), time.Millisecond))
}

func TestMessageAnimationCycles(t *testing.T) {
	un := health.UnreachableStatus()
	assert.Equal(t, "Starting Alfred backend.", Message(4, un))
	assert.Equal(t, "Starting Alfred backend...", Message(6, un))
	assert.Equal(t, "Starting Alfred backend.", Message(0, un))
}
