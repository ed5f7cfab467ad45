package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Meta is the optional second line of a PID file. StartUnix guards against PID reuse.
type Meta struct {
	Name      string `json:"name,omitempty"`
	StartUnix int64  `json:"start_unix,omitempty"`
}

// pidAlive returns true if a process with given pid exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// procStartUnix returns the process start time as Unix seconds, 0 when unavailable.
func procStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// WritePIDFile records pid and its start time so a later reader can tell a
// reused PID from the original process.
func WritePIDFile(path, name string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	meta, err := json.Marshal(Meta{Name: name, StartUnix: procStartUnix(pid)})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	data := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile parses a PID file. Legacy files holding only the PID yield a zero Meta.
func ReadPIDFile(path string) (int, Meta, error) {
	var meta Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		_ = json.Unmarshal([]byte(rest), &meta)
	}
	return pid, meta, nil
}

// PIDFileDetector detects a process via a PID file.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, err := d.Lookup()
	return pid > 0, err
}

// Lookup returns the PID recorded in the file when that process is still the
// one that wrote it, else 0.
func (d PIDFileDetector) Lookup() (int, error) {
	if d.PIDFile == "" {
		return 0, nil
	}
	pid, meta, err := ReadPIDFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if meta.StartUnix > 0 {
		cur := procStartUnix(pid)
		if cur > 0 && cur != meta.StartUnix {
			return 0, nil // PID reused; not our process
		}
	}
	if !pidAlive(pid) {
		return 0, nil
	}
	return pid, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }
