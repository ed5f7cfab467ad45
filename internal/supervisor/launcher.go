package supervisor

import (
	"strings"
	"time"

	"github.com/loykin/alfred/internal/process"
)

// Process is the supervisor's view of a spawned backend.
type Process interface {
	PID() int
	StartedAt() time.Time
	Done() <-chan struct{}
	ExitErr() error
	// Stop returns nil only once the process is confirmed gone.
	Stop(grace time.Duration) error
}

// Launcher spawns the backend. It is the only place a process is created.
type Launcher interface {
	Launch() (Process, error)
	Describe() string
}

// ProcessLauncher launches spec as a real child process.
func ProcessLauncher(spec process.Spec) Launcher { return specLauncher{spec: spec} }

type specLauncher struct{ spec process.Spec }

func (l specLauncher) Launch() (Process, error) {
	p, err := process.Start(l.spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l specLauncher) Describe() string {
	return strings.Join(append([]string{l.spec.Python, l.spec.Script}, l.spec.Args...), " ")
}
