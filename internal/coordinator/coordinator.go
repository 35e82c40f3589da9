// Package coordinator runs the daemon's core loop.
//
// All session, debounce, arbiter, and injection state is owned by one
// goroutine. Timers, provider responses, overlay actions, and fallback
// completions are posted into the loop as messages; nothing mutates state
// from the goroutine that produced it. The session generation counter is
// the staleness token threaded through every hand-off.
package coordinator

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MouseAndKeyboard/tabanywhere/internal/arbiter"
	"github.com/MouseAndKeyboard/tabanywhere/internal/clipboard"
	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/debounce"
	"github.com/MouseAndKeyboard/tabanywhere/internal/health"
	"github.com/MouseAndKeyboard/tabanywhere/internal/inject"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/overlay"
	"github.com/MouseAndKeyboard/tabanywhere/internal/provider"
	"github.com/MouseAndKeyboard/tabanywhere/internal/session"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// Coordinator owns the suggestion pipeline.
type Coordinator struct {
	cfg      *config.Config
	src      source.Source
	sessions *session.Tracker
	debounce *debounce.Scheduler
	arbiter  *arbiter.Arbiter
	injector *inject.Controller
	gateway  overlay.Gateway
	tracker  *health.Tracker
	counters *health.Counters
	logger   *logging.Logger

	fires    chan debounce.Fire
	results  chan arbiter.Result
	dones    chan inject.Done
	control  chan controlMsg
	shutdown chan struct{}

	paused atomic.Bool
}

type controlMsg struct {
	paused bool
}

// New wires the pipeline components together. The provider client,
// clipboard tool, and overlay gateway are injected so tests can substitute
// them.
func New(cfg *config.Config, src source.Source, client provider.Client, tool clipboard.Tool, gateway overlay.Gateway, tracker *health.Tracker, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	if tracker == nil {
		tracker = health.NewTracker()
	}

	c := &Coordinator{
		cfg:      cfg,
		src:      src,
		gateway:  gateway,
		tracker:  tracker,
		counters: tracker.Counters(),
		logger:   logger.WithComponent("coordinator"),
		fires:    make(chan debounce.Fire, 16),
		results:  make(chan arbiter.Result, 16),
		dones:    make(chan inject.Done, 16),
		control:  make(chan controlMsg, 4),
		shutdown: make(chan struct{}),
	}

	c.sessions = session.NewTracker(src, cfg.Source.EligibleRoles, logger)
	c.debounce = debounce.NewScheduler(
		cfg.Debounce.QuietPeriod(), cfg.Debounce.MinInterval(),
		func(f debounce.Fire) { c.fires <- f }, logger)
	c.arbiter = arbiter.New(client, cfg.Provider.Timeout(),
		func(r arbiter.Result) { c.results <- r }, logger)
	c.injector = inject.NewController(src, tool,
		cfg.Injection.PasteSettle(), cfg.Injection.ToolTimeout(),
		func(d inject.Done) { c.dones <- d }, logger)

	return c
}

// Run drives the loop until the context is cancelled, Shutdown is called,
// or the event source closes.
func (c *Coordinator) Run(ctx context.Context) error {
	c.tracker.SetReady(true)
	defer c.tracker.SetReady(false)
	defer c.debounce.Cancel()

	events := c.src.Events()
	actions := c.gateway.Actions()

	for {
		select {
		case <-ctx.Done():
			c.abandonActive()
			return ctx.Err()

		case <-c.shutdown:
			c.abandonActive()
			return nil

		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("event source closed")
				c.abandonActive()
				return source.ErrRegistration
			}
			c.handleSourceEvent(ev)

		case f := <-c.fires:
			c.handleFire(f)

		case r := <-c.results:
			c.handleResult(r)

		case a := <-actions:
			c.handleAction(a)

		case d := <-c.dones:
			c.handleInjectDone(d)

		case m := <-c.control:
			if m.paused {
				c.abandonActive()
			}
		}
	}
}

// Status implements the control socket's status command. Safe to call
// from IPC handler goroutines.
func (c *Coordinator) Status(ctx context.Context, includeComponents bool) health.Snapshot {
	return c.tracker.Snapshot(ctx, includeComponents)
}

// SetPaused suspends or resumes suggestion generation. Safe to call from
// IPC handler goroutines.
func (c *Coordinator) SetPaused(paused bool) bool {
	c.paused.Store(paused)
	c.tracker.SetPaused(paused)
	select {
	case c.control <- controlMsg{paused: paused}:
	default:
	}
	c.logger.Info("suggestion generation toggled", "paused", paused)
	return paused
}

// Shutdown stops the loop. Safe to call from IPC handler goroutines.
func (c *Coordinator) Shutdown() {
	select {
	case <-c.shutdown:
	default:
		close(c.shutdown)
	}
}

func (c *Coordinator) handleSourceEvent(ev source.Event) {
	c.counters.EventsSeen.Add(1)
	now := time.Now()

	switch ev.Kind {
	case source.FocusGained:
		c.abandonActive()
		focus := c.sessions.FocusGained(ev, now)
		if focus != nil && c.inIgnoredApp(focus.Element) {
			c.sessions.FocusLost()
			focus = nil
		}
		c.tracker.SetSession(c.sessions.Generation(), focus != nil)
		if focus != nil {
			c.counters.SessionsStarted.Add(1)
			// The initial snapshot goes downstream too: a field focused
			// with existing text gets a suggestion without any edit.
			if !c.paused.Load() {
				c.debounce.Note(focus.Generation, now)
			}
		}

	case source.FocusLost:
		c.abandonActive()
		c.sessions.FocusLost()
		c.tracker.SetSession(c.sessions.Generation(), false)

	case source.TextChanged:
		focus, ok := c.sessions.TextChanged(ev.Element, now)
		if !ok {
			return
		}
		// Typing past a displayed suggestion withdraws it, and any
		// pending request is answering an outdated snapshot.
		c.injector.Dismiss()
		c.gateway.Hide()
		c.arbiter.Invalidate()
		if c.paused.Load() {
			return
		}
		c.debounce.Note(focus.Generation, now)
	}
}

// inIgnoredApp reports whether the element's window belongs to a
// configured ignored application. Fails open: an unreadable window title
// does not block suggestions.
func (c *Coordinator) inIgnoredApp(el source.ElementRef) bool {
	if len(c.cfg.Source.IgnoredApplications) == 0 {
		return false
	}
	fc, err := c.src.Context(el)
	if err != nil || fc.WindowTitle == "" {
		return false
	}
	title := strings.ToLower(fc.WindowTitle)
	for _, app := range c.cfg.Source.IgnoredApplications {
		if app != "" && strings.Contains(title, strings.ToLower(app)) {
			c.logger.Debug("field in ignored application", "window", fc.WindowTitle)
			return true
		}
	}
	return false
}

func (c *Coordinator) handleFire(f debounce.Fire) {
	if c.paused.Load() {
		return
	}
	focus := c.sessions.Active()
	if focus == nil {
		return
	}
	if !c.debounce.Confirm(f, c.sessions.Generation(), focus.UpdatedAt, time.Now()) {
		return
	}

	fc, err := c.src.Context(focus.Element)
	if err != nil {
		c.logger.Debug("field context unavailable", "error", err)
	}
	c.arbiter.Trigger(focus.Generation, c.sessions.Generation(), focus.Text, fc)
	c.counters.RequestsIssued.Add(1)
}

func (c *Coordinator) handleResult(r arbiter.Result) {
	completion, ok := c.arbiter.HandleResult(r, c.sessions.Generation())
	if !ok {
		if r.Err != nil {
			c.counters.RequestsFailed.Add(1)
		} else {
			c.counters.ResponsesDiscarded.Add(1)
		}
		return
	}

	focus := c.sessions.Active()
	if focus == nil {
		c.counters.ResponsesDiscarded.Add(1)
		return
	}

	if !c.injector.Offer(focus.Generation, focus.Element, focus.Text, completion) {
		c.counters.ResponsesDiscarded.Add(1)
		return
	}

	box, err := c.src.BoundingBox(focus.Element)
	if err != nil {
		c.logger.Debug("bounding box unavailable", "error", err)
	}
	c.gateway.Show(completion.Text, box)
	c.counters.SuggestionsShown.Add(1)
}

func (c *Coordinator) handleAction(a overlay.Action) {
	switch a {
	case overlay.ActionAccept:
		outcome, err := c.injector.Accept(c.sessions.Generation())
		c.gateway.Hide()
		if err != nil {
			c.logger.Debug("accept failed", "error", err)
			return
		}
		c.counters.SuggestionsAccepted.Add(1)
		if outcome == inject.OutcomeDirect {
			c.counters.DirectInjections.Add(1)
			c.refreshSnapshot()
		}

	case overlay.ActionDismiss:
		c.injector.Dismiss()
		c.gateway.Hide()
		c.arbiter.Invalidate()
	}
}

func (c *Coordinator) handleInjectDone(d inject.Done) {
	err := c.injector.HandleDone(d)
	if err != nil {
		c.counters.InjectionFailures.Add(1)
		c.logger.Warn("paste injection failed", "error", err)
		return
	}
	c.counters.FallbackInjections.Add(1)
	c.refreshSnapshot()
}

// refreshSnapshot re-reads the session text after an injection so the
// injected content does not register as a user edit.
func (c *Coordinator) refreshSnapshot() {
	focus := c.sessions.Active()
	if focus == nil {
		return
	}
	c.sessions.TextChanged(focus.Element, time.Now())
}

// abandonActive cancels outstanding work when the session becomes
// invalid: the timer is stopped, any pending request is superseded, any
// in-flight injection is aborted, and the overlay is hidden.
func (c *Coordinator) abandonActive() {
	c.debounce.Cancel()
	c.arbiter.Invalidate()
	c.injector.Abort()
	c.gateway.Hide()
}
