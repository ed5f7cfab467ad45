package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncSpawn(nil)
	IncSpawn(errors.New("boom"))
	IncStop(true)
	IncRestart(nil)
	RecordStateTransition("Idle", "Starting")
	SetCurrentState("Starting", []string{"Idle", "Starting"})
	IncHealthPoll("unreachable")
	ObserveTimeToReady(12.5)
	IncRelayDropped("statuses")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"alfred_backend_spawns_total":               false,
		"alfred_backend_stops_total":                false,
		"alfred_backend_restarts_total":             false,
		"alfred_supervisor_state_transitions_total": false,
		"alfred_supervisor_current_state":           false,
		"alfred_readiness_health_polls_total":       false,
		"alfred_readiness_time_to_ready_seconds":    false,
		"alfred_relay_dropped_total":                false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
		if n == "alfred_backend_spawns_total" && len(mf.GetMetric()) != 2 {
			t.Fatalf("expected ok and error series, got %d", len(mf.GetMetric()))
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `alfred_relay_dropped_total{channel="statuses"} 1`) {
		t.Fatalf("exposition missing relay drop sample:\n%s", body)
	}
}

func TestSampleSelf(t *testing.T) {
	s, err := Sample(os.Getpid())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if s.PID != int32(os.Getpid()) || s.MemoryRSS == 0 {
		t.Fatalf("unexpected sample: %+v", s)
	}
	if _, err := Sample(0); err == nil {
		t.Fatalf("expected error for pid 0")
	}
}

func TestSamplerTracksPID(t *testing.T) {
	pid := os.Getpid()
	s := NewSampler(time.Hour, func() int { return pid }, nil)
	s.tick()
	if got := s.Latest(); got.PID != int32(pid) {
		t.Fatalf("expected sample for own pid, got %+v", got)
	}
	pid = 0
	s.tick()
	if got := s.Latest(); got.PID != 0 {
		t.Fatalf("expected empty sample without a backend, got %+v", got)
	}
}
