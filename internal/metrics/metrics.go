package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alfred"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	backendSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "spawns_total",
			Help:      "Backend spawn attempts by result.",
		}, []string{"result"},
	)
	backendStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Backend stops; owned=false means the process was left running.",
		}, []string{"owned"},
	)
	backendRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "restarts_total",
			Help:      "Explicit restarts by result.",
		}, []string{"result"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of supervision state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervision state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	healthPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "health_polls_total",
			Help:      "Health probes by overall classification.",
		}, []string{"overall"},
	)
	timeToReady = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "time_to_ready_seconds",
			Help:      "Time from attempt start to a ready backend.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120, 300, 600},
		},
	)
	relayDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Events dropped because a relay channel was full.",
		}, []string{"channel"},
	)
	backendCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the backend process.",
		},
	)
	backendRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the backend process.",
		},
	)
	backendThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "num_threads",
			Help:      "Thread count of the backend process.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backendSpawns, backendStops, backendRestarts,
		stateTransitions, currentState,
		healthPolls, timeToReady, relayDropped,
		backendCPU, backendRSS, backendThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the same registry: keep existing
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func IncSpawn(err error) {
	if regOK.Load() {
		backendSpawns.WithLabelValues(result(err)).Inc()
	}
}

func IncStop(owned bool) {
	if regOK.Load() {
		label := "false"
		if owned {
			label = "true"
		}
		backendStops.WithLabelValues(label).Inc()
	}
}

func IncRestart(err error) {
	if regOK.Load() {
		backendRestarts.WithLabelValues(result(err)).Inc()
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state active and every other known state inactive.
func SetCurrentState(state string, all []string) {
	if regOK.Load() {
		for _, s := range all {
			var v float64
			if s == state {
				v = 1
			}
			currentState.WithLabelValues(s).Set(v)
		}
	}
}

func IncHealthPoll(overall string) {
	if regOK.Load() {
		healthPolls.WithLabelValues(overall).Inc()
	}
}

func ObserveTimeToReady(seconds float64) {
	if regOK.Load() {
		timeToReady.Observe(seconds)
	}
}

func IncRelayDropped(channel string) {
	if regOK.Load() {
		relayDropped.WithLabelValues(channel).Inc()
	}
}

func setResources(s ResourceSample) {
	if regOK.Load() {
		backendCPU.Set(s.CPUPercent)
		backendRSS.Set(float64(s.MemoryRSS))
		backendThreads.Set(float64(s.NumThreads))
	}
}
