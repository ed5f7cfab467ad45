// Package health classifies the backend's composite /health response.
package health

import "strings"

// Overall is the coarse classification of a single health probe.
type Overall string

const (
	Healthy     Overall = "healthy"
	Degraded    Overall = "degraded"
	Unhealthy   Overall = "unhealthy"
	Unreachable Overall = "unreachable"
)

// Report is the body of GET /health.
type Report struct {
	Status          string `json:"status"`
	CoreInitialized bool   `json:"alfred_core_initialized"`
	IndexLoaded     bool   `json:"vectorstore_loaded"`
}

// Status is the result of one probe. It is recomputed on every poll and never persisted.
type Status struct {
	Reachable       bool    `json:"reachable"`
	CoreInitialized bool    `json:"core_initialized"`
	IndexLoaded     bool    `json:"index_loaded"`
	Overall         Overall `json:"overall"`
}

// Component names a part of the composite readiness check.
type Component string

const (
	ComponentNone   Component = ""
	ComponentStatus Component = "status"
	ComponentCore   Component = "core"
	ComponentIndex  Component = "vectorstore"
)

// Classify maps a decoded report to a Status. Unknown status strings are
// treated as unhealthy.
func Classify(r Report) Status {
	s := Status{
		Reachable:       true,
		CoreInitialized: r.CoreInitialized,
		IndexLoaded:     r.IndexLoaded,
	}
	switch Overall(strings.ToLower(strings.TrimSpace(r.Status))) {
	case Healthy:
		s.Overall = Healthy
	case Degraded:
		s.Overall = Degraded
	default:
		s.Overall = Unhealthy
	}
	return s
}

// UnreachableStatus is what a probe reports on a transport failure.
func UnreachableStatus() Status {
	return Status{Overall: Unreachable}
}

// Ready reports whether the backend can serve queries.
func (s Status) Ready() bool {
	if !s.Reachable {
		return false
	}
	if s.Overall != Healthy && s.Overall != Degraded {
		return false
	}
	return s.CoreInitialized && s.IndexLoaded
}

// Pending returns the first unmet component, or ComponentNone when ready or unreachable.
func (s Status) Pending() Component {
	switch {
	case !s.Reachable:
		return ComponentNone
	case s.Overall != Healthy && s.Overall != Degraded:
		return ComponentStatus
	case !s.CoreInitialized:
		return ComponentCore
	case !s.IndexLoaded:
		return ComponentIndex
	}
	return ComponentNone
}
