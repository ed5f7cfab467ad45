package supervisor

import (
	"fmt"
	"time"

	"github.com/loykin/alfred/internal/health"
)

// State is the supervision state of the backend.
type State int

const (
	Idle State = iota
	Starting
	WaitingForHealth
	Ready
	Stopping
	Failed
)

var stateNames = [...]string{"Idle", "Starting", "WaitingForHealth", "Ready", "Stopping", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown supervision state %q", name)
}

// InputEnabled reports whether the UI may send queries in this state.
func (s State) InputEnabled() bool { return s == Ready }

func allStateNames() []string { return stateNames[:] }

// Handle describes the backend process currently associated with the supervisor.
type Handle struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Alive     bool      `json:"alive"`
	Owned     bool      `json:"owned"`
}

// Snapshot is a consistent copy of supervisor state.
type Snapshot struct {
	State      State         `json:"state"`
	Handle     *Handle       `json:"handle,omitempty"`
	Health     health.Status `json:"health"`
	Message    string        `json:"message"`
	LastError  string        `json:"last_error,omitempty"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
