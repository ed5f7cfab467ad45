package process

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/loykin/alfred/internal/env"
	"github.com/loykin/alfred/internal/logger"
)

// Spec describes how the backend is launched: a fixed interpreter running a
// fixed script from a fixed working directory.
type Spec struct {
	Name    string        `json:"name"`
	Python  string        `json:"python"`   // interpreter path or name on PATH
	Script  string        `json:"script"`   // entry script, relative to WorkDir
	Args    []string      `json:"args"`     // extra script arguments
	WorkDir string        `json:"work_dir"` // optional working dir
	Env     []string      `json:"env"`      // extra KEY=VALUE pairs appended to the parent env
	PIDFile string        `json:"pid_file"` // optional pidfile path
	Log     logger.Config `json:"log"`
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Python) == "" {
		return errors.New("python interpreter is required")
	}
	if strings.TrimSpace(s.Script) == "" {
		return errors.New("backend script is required")
	}
	return nil
}

// BuildCommand constructs the *exec.Cmd for the spec without starting it.
// The interpreter is executed directly; no shell is involved.
func (s Spec) BuildCommand() *exec.Cmd {
	args := append([]string{s.Script}, s.Args...)
	// #nosec G204
	cmd := exec.Command(s.Python, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	cmd.Env = env.FromOS(s.Env)
	// stray grandchildren holding the log pipes must not block reaping
	cmd.WaitDelay = killWait
	configureSysProcAttr(cmd)
	return cmd
}
