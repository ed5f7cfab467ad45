// Package detector finds a running backend that this process may not have spawned.
package detector

// Detector locates the backend process. It must be safe for concurrent use.
type Detector interface {
	// Lookup returns the PID of the running backend, or 0 when none is found.
	Lookup() (int, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

var _ Detector = PIDFileDetector{}
