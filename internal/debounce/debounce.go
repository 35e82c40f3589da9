// Package debounce collapses bursts of text-change events into single
// suggestion triggers.
//
// A timer fire is never acted on directly: it is posted as a message back
// into the coordinator, which calls Confirm on its own goroutine. That keeps
// "timer fired" and "new edit arrived" ordered through one owner instead of
// racing.
package debounce

import (
	"time"

	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// Fire describes a timer expiry delivered to the coordinator.
type Fire struct {
	// Generation the timer was armed under.
	Generation uint64

	// ScheduledAt is when the timer was armed. A text snapshot newer than
	// this means the fire was superseded.
	ScheduledAt time.Time
}

// Scheduler owns the single live debounce timer.
//
// Note and Confirm must be called from the coordinator goroutine; only the
// emit callback runs on a timer goroutine, and it must do nothing but post
// a message.
type Scheduler struct {
	quiet       time.Duration
	minInterval time.Duration
	emit        func(Fire)
	logger      *logging.Logger

	timer    *time.Timer
	lastFire time.Time
}

// NewScheduler creates a scheduler with quiet period and hard minimum
// inter-fire interval. emit posts a Fire message into the coordinator.
func NewScheduler(quiet, minInterval time.Duration, emit func(Fire), logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		quiet:       quiet,
		minInterval: minInterval,
		emit:        emit,
		logger:      logger.WithComponent("debounce"),
	}
}

// Note records a text change: any live timer is superseded and a new one is
// armed for the full quiet period.
func (s *Scheduler) Note(generation uint64, now time.Time) {
	s.Cancel()
	s.arm(Fire{Generation: generation, ScheduledAt: now}, s.quiet)
}

// Cancel stops the live timer, if any. Called on focus changes; a stale
// fire that already slipped past the stop is rejected by Confirm's
// generation check.
func (s *Scheduler) Cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Confirm decides whether a delivered fire should trigger a suggestion
// request. It returns false for stale fires (old generation or a snapshot
// newer than the arming time) and for fires arriving inside the minimum
// interval, in which case the timer is re-armed for the deficit.
func (s *Scheduler) Confirm(f Fire, currentGeneration uint64, snapshotAt, now time.Time) bool {
	if f.Generation != currentGeneration {
		s.logger.Debug("stale fire discarded",
			"fire_generation", f.Generation, "generation", currentGeneration)
		return false
	}
	if snapshotAt.After(f.ScheduledAt) {
		// A newer edit superseded this timer; its own timer is live.
		return false
	}
	if !s.lastFire.IsZero() {
		if wait := s.minInterval - now.Sub(s.lastFire); wait > 0 {
			// Rate cap: defer rather than drop, preserving the trigger.
			s.arm(f, wait)
			return false
		}
	}

	s.lastFire = now
	return true
}

func (s *Scheduler) arm(f Fire, delay time.Duration) {
	s.timer = time.AfterFunc(delay, func() {
		s.emit(f)
	})
}
