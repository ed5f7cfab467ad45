package supervisor

import "time"

// RetryBudget bounds how many consecutive spawns and how much wall time
// startup may take. Reaching Ready or an explicit Restart restores it; a
// failed attempt never does.
type RetryBudget struct {
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`
	Used       int           `json:"used"`
	StartedAt  time.Time     `json:"started_at"`
}

// Remaining is the number of spawns left.
func (b RetryBudget) Remaining() int {
	if r := b.MaxRetries - b.Used; r > 0 {
		return r
	}
	return 0
}

// Elapsed is the time since the current startup window opened.
func (b RetryBudget) Elapsed(now time.Time) time.Duration {
	if b.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(b.StartedAt)
}

// Exhausted reports whether no further spawn may be attempted.
func (b RetryBudget) Exhausted(now time.Time) bool {
	if b.Remaining() == 0 {
		return true
	}
	return b.Timeout > 0 && b.Elapsed(now) > b.Timeout
}

// open starts the startup clock if it is not already running.
func (b *RetryBudget) open(now time.Time) {
	if b.StartedAt.IsZero() {
		b.StartedAt = now
	}
}

// take consumes one spawn. It reports false when the budget is exhausted.
func (b *RetryBudget) take(now time.Time) bool {
	b.open(now)
	if b.Exhausted(now) {
		return false
	}
	b.Used++
	return true
}

// settle restores the budget after the backend became ready.
func (b *RetryBudget) settle() { b.Reset() }

// Reset restores the full budget.
func (b *RetryBudget) Reset() {
	b.Used = 0
	b.StartedAt = time.Time{}
}
