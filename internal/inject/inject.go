// Package inject applies an accepted suggestion to the focused field.
//
// The controller first attempts a direct accessibility write and verifies
// it by reading the field back. When the capability is unsupported, denied,
// or the read-back mismatches, it falls back to a clipboard-backup, paste,
// restore sequence. The user's clipboard is restored on every exit path.
package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MouseAndKeyboard/tabanywhere/internal/clipboard"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/provider"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// ErrCapability indicates the direct write path is unsupported or was
// denied. Recovered locally by the fallback path.
var ErrCapability = errors.New("inject: direct write unavailable")

// ErrVerification indicates a direct write appeared to succeed but the
// read-back mismatched. Treated exactly like ErrCapability.
var ErrVerification = errors.New("inject: write verification mismatch")

// ErrBusy indicates an injection is already in progress.
var ErrBusy = errors.New("inject: operation in progress")

// ErrNoOffer indicates Accept was called with nothing offered.
var ErrNoOffer = errors.New("inject: no suggestion awaiting accept")

// State is the controller's position in the injection lifecycle.
type State int

const (
	// StateIdle means no suggestion is offered and nothing is in flight.
	StateIdle State = iota
	// StateAwaitingAccept means a suggestion is displayed.
	StateAwaitingAccept
	// StateInjecting covers the direct write attempt.
	StateInjecting
	// StateVerifying covers the post-write read-back.
	StateVerifying
	// StateFallbackPending covers the clipboard/paste sequence.
	StateFallbackPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAccept:
		return "awaiting-accept"
	case StateInjecting:
		return "injecting"
	case StateVerifying:
		return "verifying"
	case StateFallbackPending:
		return "fallback-pending"
	default:
		return "unknown"
	}
}

// Writer is the slice of the event source the controller needs.
type Writer interface {
	FullText(el source.ElementRef) (string, error)
	SetTextDirect(el source.ElementRef, text string) (bool, error)
}

// Done reports completion of an asynchronous fallback injection.
type Done struct {
	Generation uint64
	Err        error
}

// Outcome describes how an accepted suggestion was applied.
type Outcome int

const (
	// OutcomeDirect means the direct write succeeded and verified.
	OutcomeDirect Outcome = iota
	// OutcomeFallback means the clipboard/paste sequence was started; its
	// result arrives later as a Done message.
	OutcomeFallback
)

// Controller owns injection state. All methods run on the coordinator
// goroutine; only the fallback sequence runs concurrently, reporting back
// through the emit callback.
type Controller struct {
	writer      Writer
	tool        clipboard.Tool
	settle      time.Duration
	toolTimeout time.Duration
	emit        func(Done)
	logger      *logging.Logger

	state      State
	generation uint64
	element    source.ElementRef
	target     string
	cancel     context.CancelFunc
}

// NewController creates an injection controller. emit posts fallback
// completion into the coordinator loop.
func NewController(writer Writer, tool clipboard.Tool, settle, toolTimeout time.Duration, emit func(Done), logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		writer:      writer,
		tool:        tool,
		settle:      settle,
		toolTimeout: toolTimeout,
		emit:        emit,
		logger:      logger.WithComponent("inject"),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Offer arms the controller with a displayed suggestion. Valid while idle
// or while an earlier offer is still awaiting accept (the newer offer
// replaces it). Refused while an injection is in flight: the clipboard is
// exclusively owned during a fallback cycle.
func (c *Controller) Offer(generation uint64, el source.ElementRef, snapshot string, completion provider.Completion) bool {
	switch c.state {
	case StateIdle, StateAwaitingAccept:
	default:
		c.logger.Debug("offer refused", "state", c.state.String())
		return false
	}

	// Full replacement by default; continuation completions append to the
	// snapshot they were computed from.
	target := completion.Text
	if completion.Continuation {
		target = snapshot + completion.Text
	}

	c.state = StateAwaitingAccept
	c.generation = generation
	c.element = el
	c.target = target
	return true
}

// Dismiss withdraws the current offer.
func (c *Controller) Dismiss() {
	if c.state == StateAwaitingAccept {
		c.state = StateIdle
		c.target = ""
	}
}

// Accept applies the offered suggestion. The direct path completes
// synchronously; the fallback path transitions to StateFallbackPending and
// completes via a Done message.
func (c *Controller) Accept(currentGeneration uint64) (Outcome, error) {
	if c.state != StateAwaitingAccept {
		return 0, ErrNoOffer
	}
	if c.generation != currentGeneration {
		// The session moved on under the displayed suggestion.
		c.state = StateIdle
		return 0, fmt.Errorf("inject: stale accept for generation %d", c.generation)
	}

	c.state = StateInjecting
	err := c.injectDirect()
	if err == nil {
		c.state = StateIdle
		c.logger.Debug("direct injection verified", "generation", c.generation)
		return OutcomeDirect, nil
	}

	if !errors.Is(err, ErrCapability) && !errors.Is(err, ErrVerification) {
		c.state = StateIdle
		return 0, err
	}

	c.logger.Debug("falling back to paste injection", "reason", err)
	c.state = StateFallbackPending

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.runFallback(ctx, c.generation, c.target)
	return OutcomeFallback, nil
}

// injectDirect writes the target text and verifies it by reading back.
func (c *Controller) injectDirect() error {
	ok, err := c.writer.SetTextDirect(c.element, c.target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapability, err)
	}
	if !ok {
		return ErrCapability
	}

	c.state = StateVerifying
	got, err := c.writer.FullText(c.element)
	if err != nil {
		return fmt.Errorf("%w: read-back failed: %v", ErrVerification, err)
	}
	if got != c.target {
		return ErrVerification
	}
	return nil
}

// runFallback performs the clipboard-backup, paste, restore sequence.
// The restore is registered before anything touches the clipboard content
// and runs on every exit path; the completion message is emitted only
// after the restore finished.
func (c *Controller) runFallback(ctx context.Context, generation uint64, text string) {
	var opErr error
	defer func() {
		c.emit(Done{Generation: generation, Err: opErr})
	}()

	backup, err := TakeBackup(ctx, c.tool, c.toolTimeout)
	if err != nil {
		opErr = err
		return
	}
	defer func() {
		if err := backup.Restore(); err != nil {
			c.logger.Warn("clipboard restore failed", "error", err)
		}
	}()

	if opErr = c.tool.SetClipboard(ctx, []byte(text)); opErr != nil {
		return
	}
	if opErr = ctx.Err(); opErr != nil {
		// Aborted before pasting: no write against the wrong field.
		return
	}
	if opErr = c.tool.TriggerPaste(ctx); opErr != nil {
		return
	}

	// Give the target application time to consume the paste before the
	// clipboard reverts.
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
	}
}

// HandleDone finishes a fallback cycle. Returns the operation error for
// reporting; stale completions still release the state machine.
func (c *Controller) HandleDone(d Done) error {
	if c.state != StateFallbackPending {
		return nil
	}
	c.state = StateIdle
	c.cancel = nil
	c.target = ""
	return d.Err
}

// Abort cancels work for a stale generation after a focus change. A
// pending fallback is cancelled; its clipboard restore still runs and its
// Done message still arrives. A displayed offer is withdrawn.
func (c *Controller) Abort() {
	switch c.state {
	case StateAwaitingAccept:
		c.state = StateIdle
		c.target = ""
	case StateFallbackPending:
		if c.cancel != nil {
			c.cancel()
		}
	}
}
