package supervisor

import (
	"context"
	"time"

	"github.com/loykin/alfred/internal/health"
	"github.com/loykin/alfred/internal/history"
	"github.com/loykin/alfred/internal/metrics"
	"github.com/loykin/alfred/internal/relay"
)

// UnexpectedExitMessage is sent when a ready backend dies on its own.
const UnexpectedExitMessage = "Alfred backend stopped unexpectedly. Restart it to continue."

// startMonitorLocked watches a Ready backend: it re-probes health every
// StatusInterval and, for an owned process, reacts to exit at once.
func (s *Supervisor) startMonitorLocked(gen uint64, proc Process) {
	s.stopMonitorLocked()
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.monitorCancel = cancel
	go s.monitor(ctx, gen, proc)
}

func (s *Supervisor) stopMonitorLocked() {
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
}

func (s *Supervisor) monitor(ctx context.Context, gen uint64, proc Process) {
	var done <-chan struct{}
	if proc != nil {
		done = proc.Done()
	}
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			s.processExited(gen, proc)
			return
		case <-ticker.C:
			s.refreshHealth(ctx, gen)
		}
	}
}

func (s *Supervisor) refreshHealth(ctx context.Context, gen uint64) {
	st, err := s.prober.Health(ctx)
	if err != nil {
		st = health.UnreachableStatus()
	}
	metrics.IncHealthPoll(string(st.Overall))
	s.mu.Lock()
	if s.gen != gen || s.state != Ready {
		s.mu.Unlock()
		return
	}
	s.health = st
	s.updatedAt = s.now()
	ev := s.statusEventLocked()
	s.mu.Unlock()
	if !st.Ready() {
		s.logger.Warn("ready backend reports degraded health", "overall", st.Overall, "error", err)
	}
	s.publishStatus(ev)
}

func (s *Supervisor) processExited(gen uint64, proc Process) {
	cause := exitError(proc)
	var h *Handle
	ok := s.transition(gen, Failed, UnexpectedExitMessage, func() {
		h = s.handle
		s.lastErr = cause
		s.proc = nil
		s.handle = nil
		s.health = health.UnreachableStatus()
		s.monitorCancel = nil
	})
	if !ok {
		return
	}
	s.logger.Error("backend exited unexpectedly", "pid", proc.PID(), "error", proc.ExitErr())
	s.notify(relay.KindError, UnexpectedExitMessage)
	s.record(history.EventExited, h, UnexpectedExitMessage, cause)
}
