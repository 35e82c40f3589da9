// Package health tracks daemon liveness, per-component status, and the
// activity counters surfaced through the control socket.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the component status is unknown.
	StatusUnknown Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component represents a health-checkable component.
type Component struct {
	Name     string
	Critical bool // If true, failure makes overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// Counters are the daemon activity counters. Incremented from the
// coordinator loop, read from IPC handler goroutines.
type Counters struct {
	EventsSeen          atomic.Uint64
	SessionsStarted     atomic.Uint64
	RequestsIssued      atomic.Uint64
	ResponsesDiscarded  atomic.Uint64
	RequestsFailed      atomic.Uint64
	SuggestionsShown    atomic.Uint64
	SuggestionsAccepted atomic.Uint64
	DirectInjections    atomic.Uint64
	FallbackInjections  atomic.Uint64
	InjectionFailures   atomic.Uint64
}

// CounterSnapshot is the JSON form of Counters.
type CounterSnapshot struct {
	EventsSeen          uint64 `json:"events_seen"`
	SessionsStarted     uint64 `json:"sessions_started"`
	RequestsIssued      uint64 `json:"requests_issued"`
	ResponsesDiscarded  uint64 `json:"responses_discarded"`
	RequestsFailed      uint64 `json:"requests_failed"`
	SuggestionsShown    uint64 `json:"suggestions_shown"`
	SuggestionsAccepted uint64 `json:"suggestions_accepted"`
	DirectInjections    uint64 `json:"direct_injections"`
	FallbackInjections  uint64 `json:"fallback_injections"`
	InjectionFailures   uint64 `json:"injection_failures"`
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		EventsSeen:          c.EventsSeen.Load(),
		SessionsStarted:     c.SessionsStarted.Load(),
		RequestsIssued:      c.RequestsIssued.Load(),
		ResponsesDiscarded:  c.ResponsesDiscarded.Load(),
		RequestsFailed:      c.RequestsFailed.Load(),
		SuggestionsShown:    c.SuggestionsShown.Load(),
		SuggestionsAccepted: c.SuggestionsAccepted.Load(),
		DirectInjections:    c.DirectInjections.Load(),
		FallbackInjections:  c.FallbackInjections.Load(),
		InjectionFailures:   c.InjectionFailures.Load(),
	}
}

// Snapshot is the daemon status report served over the control socket.
type Snapshot struct {
	Status        Status                 `json:"status"`
	Ready         bool                   `json:"ready"`
	Paused        bool                   `json:"paused"`
	Uptime        string                 `json:"uptime"`
	Generation    uint64                 `json:"generation"`
	SessionActive bool                   `json:"session_active"`
	Counters      CounterSnapshot        `json:"counters"`
	Components    map[string]CheckResult `json:"components,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Tracker aggregates readiness, activity counters, and component checks.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool

	paused        atomic.Bool
	generation    atomic.Uint64
	sessionActive atomic.Bool
	counters      Counters
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Counters returns the mutable counter set.
func (t *Tracker) Counters() *Counters {
	return &t.counters
}

// Register registers a health check component.
func (t *Tracker) Register(component *Component) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if component.Timeout == 0 {
		component.Timeout = 5 * time.Second
	}
	t.components[component.Name] = component
	t.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc registers a simple health check function.
func (t *Tracker) RegisterFunc(name string, critical bool, check Check) {
	t.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady sets the readiness state.
func (t *Tracker) SetReady(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = ready
}

// IsReady returns the readiness state.
func (t *Tracker) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// SetPaused records whether suggestion generation is suspended.
func (t *Tracker) SetPaused(paused bool) { t.paused.Store(paused) }

// Paused reports whether suggestion generation is suspended.
func (t *Tracker) Paused() bool { return t.paused.Load() }

// SetSession records the current session generation and whether a
// session is active.
func (t *Tracker) SetSession(generation uint64, active bool) {
	t.generation.Store(generation)
	t.sessionActive.Store(active)
}

// Check runs all registered health checks.
func (t *Tracker) Check(ctx context.Context) map[string]CheckResult {
	t.mu.Lock()
	components := make([]*Component, 0, len(t.components))
	for _, comp := range t.components {
		components = append(components, comp)
	}
	t.mu.Unlock()

	results := make(map[string]CheckResult)
	var wg sync.WaitGroup

	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
			defer cancel()

			start := time.Now()
			var result CheckResult

			done := make(chan struct{})
			go func() {
				defer func() {
					if r := recover(); r != nil {
						result = CheckResult{
							Status:  StatusUnhealthy,
							Message: "check panicked",
							Error:   fmt.Sprintf("%v", r),
						}
					}
					close(done)
				}()
				result = comp.Check(checkCtx)
			}()

			select {
			case <-done:
			case <-checkCtx.Done():
				result = CheckResult{
					Status:  StatusUnhealthy,
					Message: "check timed out",
					Error:   checkCtx.Err().Error(),
				}
			}

			result.LastChecked = start
			result.Duration = time.Since(start)

			t.mu.Lock()
			t.results[comp.Name] = result
			results[comp.Name] = result
			t.mu.Unlock()
		}(comp)
	}

	wg.Wait()
	return results
}

// OverallStatus returns the aggregated health status.
func (t *Tracker) OverallStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false

	for name, result := range t.results {
		comp := t.components[name]
		if comp == nil {
			continue
		}

		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Snapshot builds the status report. When includeComponents is set the
// registered checks are re-run, otherwise component details are omitted.
func (t *Tracker) Snapshot(ctx context.Context, includeComponents bool) Snapshot {
	var components map[string]CheckResult
	if includeComponents {
		components = t.Check(ctx)
	}

	t.mu.RLock()
	ready := t.ready
	uptime := time.Since(t.startTime)
	t.mu.RUnlock()

	return Snapshot{
		Status:        t.OverallStatus(),
		Ready:         ready,
		Paused:        t.paused.Load(),
		Uptime:        uptime.Round(time.Second).String(),
		Generation:    t.generation.Load(),
		SessionActive: t.sessionActive.Load(),
		Counters:      t.counters.Snapshot(),
		Components:    components,
		Timestamp:     time.Now(),
	}
}

// CustomCheck creates a check from a simple function.
func CustomCheck(fn func() error) Check {
	return func(ctx context.Context) CheckResult {
		if err := fn(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "check failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "check passed"}
	}
}
