// Package supervisor owns the lifecycle of the local backend process: it
// detects or spawns it, gates on composite health, watches it while ready and
// stops or restarts it on request. All state lives in one Supervisor value and
// every change goes through transition, which drops writes from attempts that
// a Stop has superseded.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loykin/alfred/internal/detector"
	"github.com/loykin/alfred/internal/health"
	"github.com/loykin/alfred/internal/history"
	"github.com/loykin/alfred/internal/metrics"
	"github.com/loykin/alfred/internal/readiness"
	"github.com/loykin/alfred/internal/relay"
)

// Publisher receives user notifications and status events. *relay.Bus implements it.
type Publisher interface {
	PublishNotification(relay.Notification) bool
	PublishStatus(relay.StatusEvent) bool
}

// Config holds lifecycle budgets.
type Config struct {
	Name            string
	StartupTimeout  time.Duration
	StopGrace       time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RestartMinDelay time.Duration
	StatusInterval  time.Duration
	Readiness       readiness.Config
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "alfred-backend"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = 30 * time.Second
	}
}

type Option func(*Supervisor)

// WithClock replaces the clock used by the readiness gate and restart delays.
func WithClock(c readiness.Clock) Option { return func(s *Supervisor) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithHistory records lifecycle events.
func WithHistory(r *history.Recorder) Option { return func(s *Supervisor) { s.history = r } }

// WithDetector reports the PID of an externally owned backend.
func WithDetector(d detector.Detector) Option {
	return func(s *Supervisor) { s.detector = d }
}

type Supervisor struct {
	cfg      Config
	launcher Launcher
	prober   readiness.Prober
	pub      Publisher
	clock    readiness.Clock
	logger   *slog.Logger
	history  *history.Recorder
	detector detector.Detector
	now      func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	flights singleflight.Group
	// lifeMu serializes Stop and Restart.
	lifeMu sync.Mutex

	mu            sync.Mutex
	state         State
	gen           uint64
	handle        *Handle
	proc          Process
	launching     chan struct{}
	health        health.Status
	message       string
	lastErr       error
	budget        RetryBudget
	updatedAt     time.Time
	monitorCancel context.CancelFunc
	closed        bool
}

// New creates a supervisor in the Idle state. pub may be nil.
func New(cfg Config, launcher Launcher, prober readiness.Prober, pub Publisher, opts ...Option) *Supervisor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:        cfg,
		launcher:   launcher,
		prober:     prober,
		pub:        pub,
		clock:      readiness.RealClock{},
		logger:     slog.Default(),
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      Idle,
		health:     health.UnreachableStatus(),
		message:    "Alfred backend is not running",
		budget:     RetryBudget{MaxRetries: cfg.MaxRetries, Timeout: cfg.StartupTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("backend", cfg.Name)
	s.updatedAt = s.now()
	metrics.SetCurrentState(Idle.String(), allStateNames())
	return s
}

// Snapshot returns a copy of the current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Health:     s.health,
		Message:    s.message,
		Attempts:   s.budget.Used,
		MaxRetries: s.budget.MaxRetries,
		UpdatedAt:  s.updatedAt,
	}
	if s.handle != nil {
		h := *s.handle
		snap.Handle = &h
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// PID returns the PID of a live backend, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || !s.handle.Alive {
		return 0
	}
	return s.handle.PID
}

// EnsureRunning brings the backend to Ready. Concurrent callers share one
// attempt. Cancelling ctx only stops waiting; the attempt continues until it
// succeeds, fails, is superseded by Stop or the supervisor is closed.
func (s *Supervisor) EnsureRunning(ctx context.Context) (Snapshot, error) {
	return s.ensure(ctx, true)
}

func (s *Supervisor) ensure(ctx context.Context, notifyFailure bool) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrClosed
	}
	switch s.state {
	case Ready, Stopping:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	gen := s.gen
	s.mu.Unlock()

	ch := s.flights.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return s.attempt(gen, notifyFailure)
	})
	select {
	case r := <-ch:
		snap, _ := r.Val.(Snapshot)
		return snap, r.Err
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// attempt runs one detect-or-spawn-then-gate cycle on a context detached from
// any caller and bounded by the startup timeout.
func (s *Supervisor) attempt(gen uint64, notifyFailure bool) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.StartupTimeout)
	defer cancel()

	s.mu.Lock()
	if s.gen != gen {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrSuperseded
	}
	if s.state == Ready || s.state == Stopping {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	now := s.now()
	if s.state == Failed && s.budget.Exhausted(now) {
		err := s.budgetErrorLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	s.budget.open(now)
	s.mu.Unlock()

	st, probeErr := s.prober.Health(ctx)
	metrics.IncHealthPoll(string(st.Overall))
	if probeErr == nil {
		return s.adopt(ctx, gen, st, notifyFailure)
	}
	if s.baseCtx.Err() != nil {
		return s.Snapshot(), ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return s.abandon(gen, fmt.Errorf("%w: startup timeout %s exceeded", ErrTimeout, s.cfg.StartupTimeout), notifyFailure)
	}
	return s.spawn(ctx, gen, notifyFailure)
}

// adopt takes over a backend that already answers health probes. It is never signalled.
func (s *Supervisor) adopt(ctx context.Context, gen uint64, st health.Status, notifyFailure bool) (Snapshot, error) {
	h := &Handle{StartedAt: s.now(), Alive: true, Owned: false}
	if s.detector != nil {
		if pid, err := s.detector.Lookup(); err == nil {
			h.PID = pid
		} else {
			s.logger.Debug("backend pid lookup failed", "detector", s.detector.Describe(), "error", err)
		}
	}
	if !s.transition(gen, WaitingForHealth, readiness.Message(1, st), func() {
		s.handle = h
		s.health = st
	}) {
		return s.Snapshot(), ErrSuperseded
	}
	s.record(history.EventDetect, h, "", nil)
	s.logger.Info("adopted running backend", "pid", h.PID, "overall", st.Overall)
	if st.Ready() {
		return s.ready(gen, st, s.now())
	}
	return s.waitReady(ctx, gen, nil, notifyFailure)
}

func (s *Supervisor) spawn(ctx context.Context, gen uint64, notifyFailure bool) (Snapshot, error) {
	s.mu.Lock()
	if s.gen != gen {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrSuperseded
	}
	if !s.budget.take(s.now()) {
		err := s.budgetErrorLocked()
		s.mu.Unlock()
		return s.fail(gen, err, notifyFailure)
	}
	attempt := s.budget.Used
	s.mu.Unlock()

	launched := make(chan struct{})
	if !s.transition(gen, Starting, "Starting Alfred backend", func() {
		s.lastErr = nil
		s.launching = launched
	}) {
		return s.Snapshot(), ErrSuperseded
	}
	start := s.now()
	proc, err := s.launcher.Launch()
	metrics.IncSpawn(err)
	if err != nil {
		s.endLaunch(launched)
		spawnErr := &SpawnError{Command: s.launcher.Describe(), Err: err}
		s.logger.Error("backend spawn failed", "attempt", attempt, "error", err)
		return s.fail(gen, spawnErr, notifyFailure)
	}

	h := &Handle{PID: proc.PID(), StartedAt: proc.StartedAt(), Alive: true, Owned: true}
	if !s.transition(gen, WaitingForHealth, readiness.Message(1, health.UnreachableStatus()), func() {
		s.proc = proc
		s.handle = h
	}) {
		// a Stop raced the launch and is waiting on launched; the child is
		// ours alone to clean up before it may proceed
		if err := proc.Stop(s.cfg.StopGrace); err != nil {
			s.logger.Error("failed to stop superseded backend", "pid", h.PID, "error", err)
		}
		s.endLaunch(launched)
		return s.Snapshot(), ErrSuperseded
	}
	s.endLaunch(launched)
	s.record(history.EventSpawn, h, "", nil)
	s.logger.Info("backend spawned", "pid", h.PID, "attempt", attempt, "max_retries", s.cfg.MaxRetries)
	snap, err := s.waitReady(ctx, gen, proc, notifyFailure)
	if err == nil {
		metrics.ObserveTimeToReady(s.now().Sub(start).Seconds())
	}
	return snap, err
}

// endLaunch releases a Stop waiting for the launch that owns ch.
func (s *Supervisor) endLaunch(ch chan struct{}) {
	s.mu.Lock()
	if s.launching == ch {
		s.launching = nil
	}
	s.mu.Unlock()
	close(ch)
}

func (s *Supervisor) waitReady(ctx context.Context, gen uint64, proc Process, notifyFailure bool) (Snapshot, error) {
	gate := readiness.New(s.prober, s.cfg.Readiness,
		readiness.WithClock(s.clock),
		readiness.WithLogger(s.logger),
		readiness.WithPollObserver(func(st health.Status) { metrics.IncHealthPoll(string(st.Overall)) }),
		readiness.WithProgress(func(p readiness.Progress) { s.progress(gen, p) }),
	)
	abort := func() error {
		if s.generation() != gen {
			return ErrSuperseded
		}
		if proc != nil && exited(proc) {
			return exitError(proc)
		}
		return nil
	}
	res, err := gate.Run(ctx, abort)
	if err == nil {
		return s.ready(gen, res.Status, s.now())
	}
	switch {
	case errors.Is(err, ErrSuperseded):
		return s.Snapshot(), err
	case s.baseCtx.Err() != nil:
		if proc != nil {
			_ = proc.Stop(s.cfg.StopGrace)
		}
		return s.Snapshot(), ErrClosed
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: startup timeout %s exceeded", ErrTimeout, s.cfg.StartupTimeout)
	}
	return s.abandon(gen, err, notifyFailure)
}

// abandon fails the attempt and cleans up a process this attempt spawned.
func (s *Supervisor) abandon(gen uint64, cause error, notifyFailure bool) (Snapshot, error) {
	s.mu.Lock()
	proc := s.proc
	if s.gen != gen {
		proc = nil
	}
	s.mu.Unlock()
	if proc != nil && !exited(proc) {
		if err := proc.Stop(s.cfg.StopGrace); err != nil {
			s.logger.Error("failed to stop backend after failed startup", "pid", proc.PID(), "error", err)
		}
	}
	return s.fail(gen, cause, notifyFailure)
}

func (s *Supervisor) ready(gen uint64, st health.Status, at time.Time) (Snapshot, error) {
	var h *Handle
	var proc Process
	ok := s.transition(gen, Ready, readiness.ReadyMessage, func() {
		s.health = st
		s.lastErr = nil
		s.budget.settle()
		h = s.handle
		proc = s.proc
		s.startMonitorLocked(gen, proc)
	})
	if !ok {
		return s.Snapshot(), ErrSuperseded
	}
	s.notify(relay.KindSuccess, readiness.ReadyMessage)
	s.record(history.EventReady, h, readiness.ReadyMessage, nil)
	s.logger.Info("backend ready", "overall", st.Overall, "at", at)
	return s.Snapshot(), nil
}

func (s *Supervisor) fail(gen uint64, cause error, notifyFailure bool) (Snapshot, error) {
	msg := failureMessage(cause, s.cfg.MaxRetries)
	var h *Handle
	ok := s.transition(gen, Failed, msg, func() {
		s.lastErr = cause
		h = s.handle
		// keep a handle only for an owned process that survived its stop,
		// so a later Stop can retry; an external backend is forgotten
		if s.proc == nil || exited(s.proc) {
			s.proc = nil
			s.handle = nil
		}
		s.health = health.UnreachableStatus()
	})
	if !ok {
		return s.Snapshot(), ErrSuperseded
	}
	s.logger.Error("backend startup failed", "error", cause)
	if notifyFailure {
		s.notify(relay.KindError, msg)
	}
	s.record(history.EventFailed, h, msg, cause)
	return s.Snapshot(), cause
}

func (s *Supervisor) budgetErrorLocked() error {
	if s.lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryBudgetExhausted, s.budget.Used, s.lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrRetryBudgetExhausted, s.budget.Used)
}

func failureMessage(err error, maxRetries int) string {
	var spawnErr *SpawnError
	switch {
	case errors.As(err, &spawnErr):
		return "Could not start Alfred backend: " + spawnErr.Err.Error()
	case errors.Is(err, ErrRetryBudgetExhausted):
		return fmt.Sprintf("Alfred backend failed to start after %d attempts. Restart it manually.", maxRetries)
	case errors.Is(err, ErrTimeout):
		return readiness.TimeoutMessage
	case errors.Is(err, ErrProcessExited):
		return "Alfred backend exited during startup: " + err.Error()
	}
	return "Alfred backend failed: " + err.Error()
}

// progress mirrors a readiness poll into state and a status event.
func (s *Supervisor) progress(gen uint64, p readiness.Progress) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.health = p.Status
	s.message = p.Message
	s.updatedAt = s.now()
	ev := s.statusEventLocked()
	s.mu.Unlock()
	ev.Attempt = p.Attempt
	ev.MaxAttempts = p.MaxAttempts
	s.publishStatus(ev)
}

// transition moves to state `to` when gen is still current. mut runs under
// the lock before the state change. It reports false for a superseded attempt.
func (s *Supervisor) transition(gen uint64, to State, msg string, mut func()) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	if mut != nil {
		mut()
	}
	s.setStateLocked(to, msg)
	ev := s.statusEventLocked()
	s.mu.Unlock()
	s.publishStatus(ev)
	return true
}

func (s *Supervisor) setStateLocked(to State, msg string) {
	from := s.state
	s.state = to
	s.message = msg
	s.updatedAt = s.now()
	if from != to {
		metrics.RecordStateTransition(from.String(), to.String())
		metrics.SetCurrentState(to.String(), allStateNames())
		s.logger.Debug("state transition", "from", from, "to", to)
	}
}

func (s *Supervisor) statusEventLocked() relay.StatusEvent {
	return relay.StatusEvent{
		State:   s.state.String(),
		Message: s.message,
		Health:  s.health,
		At:      s.updatedAt,
	}
}

func (s *Supervisor) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Supervisor) publishStatus(ev relay.StatusEvent) {
	if s.pub != nil {
		s.pub.PublishStatus(ev)
	}
}

func (s *Supervisor) notify(kind relay.Kind, msg string) {
	if s.pub != nil {
		s.pub.PublishNotification(relay.Notification{Kind: kind, Message: msg, At: s.now()})
	}
}

func (s *Supervisor) record(t history.EventType, h *Handle, msg string, err error) {
	if s.history == nil {
		return
	}
	s.mu.Lock()
	e := history.Event{
		Type:       t,
		OccurredAt: s.now(),
		Backend:    s.cfg.Name,
		State:      s.state.String(),
		Attempt:    s.budget.Used,
		Message:    msg,
	}
	s.mu.Unlock()
	if h != nil {
		e.PID = h.PID
		e.Owned = h.Owned
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.history.Record(e)
}

// Stop ends supervision and leaves the supervisor Idle. An owned process gets
// a graceful termination that escalates to a kill; an externally owned backend
// is left running. Stop is idempotent and never fails; problems are logged.
func (s *Supervisor) Stop(ctx context.Context) Snapshot {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	snap, err := s.stop(ctx)
	if err != nil {
		s.logger.Error("backend stop incomplete", "error", err)
	}
	return snap
}

// stop must be called with lifeMu held. The error is non-nil when an owned
// process could not be confirmed gone.
func (s *Supervisor) stop(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.gen++
	s.stopMonitorLocked()
	proc, h, launching := s.proc, s.handle, s.launching
	if s.state == Idle && proc == nil && h == nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	s.setStateLocked(Stopping, "Stopping Alfred backend")
	ev := s.statusEventLocked()
	s.mu.Unlock()
	s.publishStatus(ev)

	// a launch still in flight terminates its own child once it sees the
	// bumped generation; Idle must not be reported before that
	if launching != nil {
		select {
		case <-launching:
		case <-ctx.Done():
			s.logger.Warn("stopped waiting for in-flight launch", "error", ctx.Err())
		}
	}

	var stopErr error
	switch {
	case proc != nil:
		stopErr = s.stopProcess(ctx, proc)
		metrics.IncStop(true)
	case h != nil:
		s.logger.Info("leaving externally owned backend running", "pid", h.PID)
		metrics.IncStop(false)
	}

	s.mu.Lock()
	s.proc = nil
	s.handle = nil
	s.health = health.UnreachableStatus()
	if stopErr == nil {
		s.lastErr = nil
	} else {
		s.lastErr = stopErr
	}
	s.setStateLocked(Idle, "Alfred backend stopped")
	ev = s.statusEventLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishStatus(ev)
	s.record(history.EventStop, h, "", stopErr)
	if h != nil {
		s.logger.Info("backend stopped", "pid", h.PID, "owned", h.Owned)
	}
	return snap, stopErr
}

func (s *Supervisor) stopProcess(ctx context.Context, proc Process) error {
	done := make(chan error, 1)
	go func() { done <- proc.Stop(s.cfg.StopGrace) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("stop pid %d: %w", proc.PID(), ctx.Err())
	}
}

// Restart resets the retry budget, stops the backend completely and then
// makes up to MaxRetries startup attempts separated by RetryDelay. A spawn
// error ends the loop at once. Failures are surfaced once, at the end.
func (s *Supervisor) Restart(ctx context.Context) (Snapshot, error) {
	s.lifeMu.Lock()
	s.mu.Lock()
	if s.closed {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.lifeMu.Unlock()
		return snap, ErrClosed
	}
	s.budget.Reset()
	s.mu.Unlock()
	s.record(history.EventRestart, nil, "", nil)
	s.logger.Info("restarting backend")
	snap, err := s.stop(ctx)
	s.lifeMu.Unlock()
	if err != nil {
		return s.restartFailed(fmt.Errorf("stop before restart: %w", err))
	}

	if err := s.clock.Sleep(ctx, s.cfg.RestartMinDelay); err != nil {
		return snap, err
	}
	var lastErr error
	for i := 0; i < s.cfg.MaxRetries; i++ {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.RetryDelay); err != nil {
				return s.Snapshot(), err
			}
		}
		snap, err = s.ensure(ctx, false)
		if err == nil {
			metrics.IncRestart(nil)
			return snap, nil
		}
		if errors.Is(err, ErrSuperseded) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return snap, err
		}
		lastErr = err
		var spawnErr *SpawnError
		if errors.As(err, &spawnErr) || errors.Is(err, ErrRetryBudgetExhausted) {
			break
		}
		s.logger.Warn("restart attempt failed", "attempt", i+1, "max_retries", s.cfg.MaxRetries, "error", err)
	}
	return s.restartFailed(lastErr)
}

func (s *Supervisor) restartFailed(err error) (Snapshot, error) {
	metrics.IncRestart(err)
	s.mu.Lock()
	gen := s.gen
	failed := s.state == Failed
	s.mu.Unlock()
	if !failed {
		s.transition(gen, Failed, failureMessage(err, s.cfg.MaxRetries), func() { s.lastErr = err })
	}
	s.notify(relay.KindError, "Restart failed: "+err.Error())
	s.logger.Error("restart failed", "error", err)
	return s.Snapshot(), err
}

// Close cancels in-flight attempts and the monitor. It does not stop the
// backend; call Stop first for that.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopMonitorLocked()
	s.mu.Unlock()
	s.baseCancel()
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

func exitError(p Process) error {
	if err := p.ExitErr(); err != nil {
		return fmt.Errorf("%w: pid %d: %v", ErrProcessExited, p.PID(), err)
	}
	return fmt.Errorf("%w: pid %d", ErrProcessExited, p.PID())
}
