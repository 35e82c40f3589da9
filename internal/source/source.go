// Package source defines the accessibility event source consumed by the
// coordinator, and provides one implementation per platform.
//
// The source observes focus and text-change notifications from the OS
// accessibility tree and exposes the query/write capabilities the core
// needs. It never captures keystrokes.
package source

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// ErrRegistration indicates the event listener subscription failed.
// This is fatal at startup: without notifications the daemon cannot operate.
var ErrRegistration = errors.New("source: event listener registration failed")

// ErrUnsupported indicates the element does not support the requested
// capability (for example direct text writes).
var ErrUnsupported = errors.New("source: capability unsupported")

// ElementRef identifies an element in the accessibility tree. It is owned
// by the source; the core only compares refs for identity.
type ElementRef struct {
	// Sender is the bus peer that owns the element.
	Sender string

	// Path is the element's object path on that peer.
	Path string
}

// IsZero reports whether the ref identifies no element.
func (r ElementRef) IsZero() bool {
	return r.Sender == "" && r.Path == ""
}

func (r ElementRef) String() string {
	if r.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s%s", r.Sender, r.Path)
}

// Rect is a screen-space bounding box.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// FieldContext is descriptive context for a field, attached to suggestion
// requests.
type FieldContext struct {
	// Label is the field's accessible name or description.
	Label string

	// WindowTitle is the title of the toplevel window containing the field.
	WindowTitle string
}

// EventKind distinguishes source notifications.
type EventKind int

const (
	// FocusGained fires when an element receives keyboard focus.
	FocusGained EventKind = iota
	// FocusLost fires when the tracked element loses focus.
	FocusLost
	// TextChanged fires when an element's text content mutates. Carries no
	// diff: consumers re-read the full text.
	TextChanged
)

func (k EventKind) String() string {
	switch k {
	case FocusGained:
		return "focus-gained"
	case FocusLost:
		return "focus-lost"
	case TextChanged:
		return "text-changed"
	default:
		return "unknown"
	}
}

// Event is one notification from the accessibility tree.
type Event struct {
	Kind    EventKind
	Element ElementRef

	// Populated for FocusGained only.
	Role      string
	Editable  bool
	Protected bool

	Timestamp time.Time
}

// Source is the fixed capability set the core consumes. One implementation
// exists per OS; core logic never branches on platform identity.
type Source interface {
	// Start subscribes to focus and text-change notifications.
	// Returns ErrRegistration if the subscription cannot be established.
	Start(ctx context.Context) error

	// Stop unsubscribes and closes the event channel.
	Stop() error

	// Events returns the notification channel. Closed when the source stops.
	Events() <-chan Event

	// FullText reads the element's complete text content.
	FullText(el ElementRef) (string, error)

	// CaretOffset reads the element's caret position within its text,
	// counted in characters.
	CaretOffset(el ElementRef) (int, error)

	// BoundingBox reads the element's screen-space extents.
	BoundingBox(el ElementRef) (Rect, error)

	// Context reads the field label and parent window title.
	Context(el ElementRef) (FieldContext, error)

	// SetTextDirect replaces the element's entire text content. The bool
	// result reports whether the write was accepted; false means the
	// capability is unsupported or denied and a fallback is needed.
	SetTextDirect(el ElementRef, text string) (bool, error)
}

// New returns the platform event source for the configured backend.
func New(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	switch cfg.Backend {
	case "auto", "atspi":
		if runtime.GOOS != "linux" && cfg.Backend == "atspi" {
			return nil, fmt.Errorf("source: backend atspi requires linux, running on %s", runtime.GOOS)
		}
		return newPlatformSource(cfg, logger)
	default:
		return nil, fmt.Errorf("source: unknown backend %q", cfg.Backend)
	}
}
