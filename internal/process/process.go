// Package process owns one spawned backend process: start, liveness, and a
// graceful stop that escalates to a kill.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/alfred/internal/detector"
)

// killWait bounds how long Stop waits for reaping after the hard kill.
const killWait = 2 * time.Second

// ErrStillRunning is returned by Stop when the process survived the kill.
var ErrStillRunning = errors.New("process still running after kill")

// Process is a started backend. Exactly one goroutine waits on the child, so
// Done is the single source of truth for exit.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	mu        sync.Mutex
	exitErr   error
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	done      chan struct{}
}

// Start launches the spec. Errors from here are spawn failures: a missing
// interpreter, an unreadable working directory or an fd exhaustion.
func Start(spec Spec) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	p := &Process{spec: spec, cmd: cmd, done: make(chan struct{})}

	if spec.Log.Enabled() {
		outW, errW, err := spec.Log.Writers(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("open backend logs: %w", err)
		}
		p.outCloser, p.errCloser = outW, errW
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}
	// nil Stdout/Stderr make os/exec attach the null device

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, err
	}
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	// the process is up; a missing pidfile only weakens later detection
	_ = detector.WritePIDFile(spec.PIDFile, spec.Name, p.pid)
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	p.closeWriters()
	p.removePIDFile()
	close(p.done)
}

func (p *Process) PID() int             { return p.pid }
func (p *Process) StartedAt() time.Time { return p.startedAt }
func (p *Process) Name() string         { return p.spec.Name }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the child has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the wait error once the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop sends a graceful termination to the process group, waits up to grace,
// then kills the group. It returns nil only when the process is confirmed gone.
func (p *Process) Stop(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := terminate(p.cmd); err != nil && p.Alive() {
		// fall through to the kill below
		grace = 0
	}
	if grace > 0 {
		select {
		case <-p.done:
			return nil
		case <-time.After(grace):
		}
	}
	_ = kill(p.cmd)
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("pid %d: %w", p.pid, ErrStillRunning)
	}
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
}

func (p *Process) removePIDFile() {
	if p.spec.PIDFile == "" {
		return
	}
	// only remove the file if it still names this process
	if pid, _, err := detector.ReadPIDFile(p.spec.PIDFile); err == nil && pid == p.pid {
		_ = os.Remove(p.spec.PIDFile)
	}
}
