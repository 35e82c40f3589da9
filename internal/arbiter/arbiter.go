// Package arbiter issues suggestion requests and filters their responses.
//
// At most one request is pending at a time; a newer trigger supersedes the
// older request and the superseded response is discarded when it arrives.
// Responses are posted back to the coordinator as messages, never applied
// from the transport goroutine.
package arbiter

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/provider"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// Status tracks the lifecycle of one suggestion request.
type Status int

const (
	// StatusPending marks a request awaiting its response.
	StatusPending Status = iota
	// StatusFulfilled marks a request whose response was displayed.
	StatusFulfilled
	// StatusSuperseded marks a request overtaken by a newer one; its
	// response is expected traffic and discarded silently.
	StatusSuperseded
	// StatusFailed marks a request that errored or returned nothing.
	StatusFailed
)

// Result is a provider response delivered to the coordinator.
type Result struct {
	RequestID  string
	Generation uint64
	Completion provider.Completion
	Err        error
}

// request is the arbiter's bookkeeping for one outbound query.
type request struct {
	id         string
	generation uint64
	issuedAt   time.Time
	status     Status
}

// Arbiter mediates between debounce fires and the provider client.
// Trigger and HandleResult run on the coordinator goroutine; only the
// provider call itself runs concurrently.
type Arbiter struct {
	client  provider.Client
	timeout time.Duration
	emit    func(Result)
	logger  *logging.Logger

	pending *request
}

// New creates an arbiter. emit posts results into the coordinator loop.
func New(client provider.Client, timeout time.Duration, emit func(Result), logger *logging.Logger) *Arbiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Arbiter{
		client:  client,
		timeout: timeout,
		emit:    emit,
		logger:  logger.WithComponent("arbiter"),
	}
}

// Trigger issues a request for the given generation and snapshot. If the
// session has already moved on, the request is dropped without calling the
// provider. An existing pending request is superseded.
func (a *Arbiter) Trigger(generation, currentGeneration uint64, text string, fc source.FieldContext) {
	if generation != currentGeneration {
		a.logger.Debug("trigger dropped, session moved on",
			"trigger_generation", generation, "generation", currentGeneration)
		return
	}

	if a.pending != nil && a.pending.status == StatusPending {
		a.pending.status = StatusSuperseded
		a.logger.Debug("request superseded", "request_id", a.pending.id)
	}

	req := &request{
		id:         ulid.Make().String(),
		generation: generation,
		issuedAt:   time.Now(),
		status:     StatusPending,
	}
	a.pending = req

	a.logger.Debug("request issued",
		"request_id", req.id, "generation", generation, "text_len", len(text))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		completion, err := a.client.RequestCompletion(ctx, provider.Request{
			Prompt:      text,
			Label:       fc.Label,
			WindowTitle: fc.WindowTitle,
		})
		a.emit(Result{
			RequestID:  req.id,
			Generation: generation,
			Completion: completion,
			Err:        err,
		})
	}()
}

// HandleResult applies a delivered response. The returned bool reports
// whether the completion should be displayed; false covers superseded and
// stale responses (silently discarded) as well as provider failures (the
// caller hides the overlay, no retry is scheduled).
func (a *Arbiter) HandleResult(r Result, currentGeneration uint64) (provider.Completion, bool) {
	if a.pending == nil || a.pending.id != r.RequestID {
		a.logger.Debug("response for unknown request discarded", "request_id", r.RequestID)
		return provider.Completion{}, false
	}
	if a.pending.status != StatusPending {
		a.logger.Debug("response for non-pending request discarded",
			"request_id", r.RequestID, "status", int(a.pending.status))
		return provider.Completion{}, false
	}
	if r.Generation != currentGeneration {
		a.pending.status = StatusSuperseded
		a.logger.Debug("stale response discarded",
			"request_id", r.RequestID,
			"response_generation", r.Generation, "generation", currentGeneration)
		return provider.Completion{}, false
	}

	if r.Err != nil {
		a.pending.status = StatusFailed
		a.logger.Debug("provider failed", "request_id", r.RequestID, "error", r.Err)
		return provider.Completion{}, false
	}

	a.pending.status = StatusFulfilled
	return r.Completion, true
}

// Invalidate supersedes any pending request. Called when the session
// changes or the user dismisses the overlay.
func (a *Arbiter) Invalidate() {
	if a.pending != nil && a.pending.status == StatusPending {
		a.pending.status = StatusSuperseded
	}
}

// PendingGeneration returns the generation of the pending request, if one
// is pending.
func (a *Arbiter) PendingGeneration() (uint64, bool) {
	if a.pending == nil || a.pending.status != StatusPending {
		return 0, false
	}
	return a.pending.generation, true
}
