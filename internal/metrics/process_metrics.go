package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSample is a point-in-time resource reading of the backend process.
type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// MemoryMB is the resident set in megabytes.
func (s ResourceSample) MemoryMB() float64 { return float64(s.MemoryRSS) / 1024 / 1024 }

// Sample reads CPU and memory for pid.
func Sample(pid int) (ResourceSample, error) {
	if pid <= 0 {
		return ResourceSample{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ResourceSample{}, fmt.Errorf("find process %d: %w", pid, err)
	}
	s := ResourceSample{PID: int32(pid), Timestamp: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("memory info %d: %w", pid, err)
	}
	s.MemoryRSS = mem.RSS
	s.MemoryVMS = mem.VMS
	if n, err := p.NumThreads(); err == nil {
		s.NumThreads = n
	}
	return s, nil
}

// Sampler periodically samples the backend PID reported by pidFn.
type Sampler struct {
	interval time.Duration
	pidFn    func() int
	logger   *slog.Logger

	mu   sync.RWMutex
	last ResourceSample
}

func NewSampler(interval time.Duration, pidFn func() int, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{interval: interval, pidFn: pidFn, logger: logger}
}

// Latest returns the most recent sample; PID is 0 when no backend was running.
func (s *Sampler) Latest() ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) tick() {
	var sample ResourceSample
	if pid := s.pidFn(); pid > 0 {
		var err error
		sample, err = Sample(pid)
		if err != nil {
			s.logger.Debug("backend resource sample failed", "pid", pid, "error", err)
			sample = ResourceSample{}
		}
	}
	s.mu.Lock()
	s.last = sample
	s.mu.Unlock()
	setResources(sample)
}
