// Step-level SLO tracking: per-step latency and success targets with
// burn-rate reporting over a sliding window.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget defines a latency and success objective for one pipeline step.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Step        string        `json:"step"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // target, 0-1
	WindowHours int           `json:"window_hours"`
}

// SLOObservation is one step execution outcome.
type SLOObservation struct {
	Step      string        `json:"step"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance for one step.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Step             string  `json:"step"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`         // >1 burns faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percent remaining
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker monitors step SLOs.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates an empty tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for tests.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets the SLO target for a step.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Step] = target
}

// Record adds an observation. A zero timestamp is stamped with the
// tracker clock.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Step] = append(t.observations[obs.Step], obs)
}

// Status computes compliance for a step over its window. A step with no
// observations in the window is in compliance with a full error budget.
func (t *SLOTracker) Status(step string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[step]
	if !ok {
		return nil, fmt.Errorf("no SLO target for step %q", step)
	}

	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)

	var windowed []SLOObservation
	for _, obs := range t.observations[step] {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:           target.SLOID,
			Step:            step,
			InCompliance:    true,
			ErrorBudgetLeft: 100.0,
		}, nil
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(target.LatencyP99.Milliseconds())
	successOK := successRate >= target.SuccessRate

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
	}
	budgetLeft := 100.0
	if errorBudget > 0 {
		budgetLeft = 100.0 * (1.0 - (errorRate / errorBudget))
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	} else if errorRate > 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Step:             step,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     latencyOK && successOK,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}

// DefaultStepTargets returns conservative targets for the pipeline steps.
// Engine-bound steps get generous latency budgets; bookkeeping steps
// should be fast.
func DefaultStepTargets() []*SLOTarget {
	mk := func(step string, p99 time.Duration) *SLOTarget {
		return &SLOTarget{
			SLOID:       "slo-" + step,
			Name:        step + " step",
			Step:        step,
			LatencyP99:  p99,
			SuccessRate: 0.99,
			WindowHours: 24,
		}
	}
	return []*SLOTarget{
		mk("initialize", 2*time.Second),
		mk("prd_parsing", 5*time.Minute),
		mk("test_execution", 30*time.Minute),
		mk("codex_review", 10*time.Minute),
		mk("cross_validation", 5*time.Second),
		mk("report_generation", 5*time.Second),
		mk("quality_gate", 5*time.Second),
	}
}
