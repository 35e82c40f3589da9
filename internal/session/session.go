// Package session tracks the single currently focused editable field.
//
// The tracker owns the one mutable Focus record. It filters ineligible and
// protected fields, keeps the canonical text snapshot, and maintains the
// generation counter the rest of the pipeline uses as a staleness token.
// It is not safe for concurrent use: all calls happen on the coordinator
// goroutine.
package session

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// Focus is the active editable-field session.
type Focus struct {
	// Element references the focused field. Owned by the source.
	Element source.ElementRef

	// Role is the field's accessibility role name.
	Role string

	// Generation identifies this session instance. Monotonic: every focus
	// change, including focus loss, produces a new value.
	Generation uint64

	// Text is the canonical full text snapshot. Always produced by a full
	// read, never an incremental diff, so missed or reordered change
	// notifications cannot corrupt it.
	Text string

	// Caret is the caret offset within Text at snapshot time, counted in
	// characters. Best effort: falls back to the end of the text when the
	// source cannot report it.
	Caret int

	// UpdatedAt is when Text was last snapshotted.
	UpdatedAt time.Time
}

// Tracker owns the current Focus.
type Tracker struct {
	reader        source.Source
	eligibleRoles []string
	logger        *logging.Logger

	generation uint64
	current    *Focus
}

// NewTracker creates a tracker reading text through src.
func NewTracker(src source.Source, eligibleRoles []string, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		reader:        src,
		eligibleRoles: eligibleRoles,
		logger:        logger.WithComponent("session"),
	}
}

// Generation returns the current generation. Work carrying an older value
// is stale and must be discarded when it surfaces.
func (t *Tracker) Generation() uint64 {
	return t.generation
}

// Active returns the current session, or nil when no eligible field is
// focused.
func (t *Tracker) Active() *Focus {
	return t.current
}

// Matches reports whether el is the active session's element.
func (t *Tracker) Matches(el source.ElementRef) bool {
	return t.current != nil && t.current.Element == el
}

// Eligible reports whether a field with the given properties may host
// suggestions. Protected fields never qualify.
func (t *Tracker) Eligible(role string, editable, protected bool) bool {
	if protected || !editable {
		return false
	}
	role = strings.ToLower(role)
	for _, eligible := range t.eligibleRoles {
		if strings.Contains(role, eligible) {
			return true
		}
	}
	return false
}

// FocusGained handles a focus-gained notification. For an eligible field it
// starts a new session with a fresh generation and an initial full-text
// snapshot, and returns it. For an ineligible field it clears any existing
// session and returns nil; the caller hides the overlay either way when nil
// is returned.
func (t *Tracker) FocusGained(ev source.Event, now time.Time) *Focus {
	// Every focus change invalidates outstanding work for the previous
	// session, eligible or not.
	t.generation++
	t.current = nil

	if !t.Eligible(ev.Role, ev.Editable, ev.Protected) {
		t.logger.Debug("ineligible focus",
			"role", ev.Role, "editable", ev.Editable, "protected", ev.Protected)
		return nil
	}

	text, err := t.reader.FullText(ev.Element)
	if err != nil {
		t.logger.Debug("initial text read failed", "element", ev.Element.String(), "error", err)
		text = ""
	}

	t.current = &Focus{
		Element:    ev.Element,
		Role:       ev.Role,
		Generation: t.generation,
		Text:       text,
		Caret:      t.caretOrEnd(ev.Element, text),
		UpdatedAt:  now,
	}
	t.logger.Debug("session started",
		"generation", t.generation, "role", ev.Role, "text_len", len(text))
	return t.current
}

// FocusLost clears the session and invalidates in-flight work.
func (t *Tracker) FocusLost() {
	if t.current == nil {
		return
	}
	t.logger.Debug("session ended", "generation", t.current.Generation)
	t.generation++
	t.current = nil
}

// TextChanged handles a text-change notification. Events from elements
// other than the active session's are ignored. The snapshot is refreshed by
// a full read and the updated session is returned.
func (t *Tracker) TextChanged(el source.ElementRef, now time.Time) (*Focus, bool) {
	if !t.Matches(el) {
		return nil, false
	}

	text, err := t.reader.FullText(el)
	if err != nil {
		t.logger.Debug("text re-read failed", "element", el.String(), "error", err)
		return nil, false
	}

	t.current.Text = text
	t.current.Caret = t.caretOrEnd(el, text)
	t.current.UpdatedAt = now
	return t.current, true
}

// caretOrEnd reads the caret offset, counted in characters as the
// accessibility tree reports it.
func (t *Tracker) caretOrEnd(el source.ElementRef, text string) int {
	length := utf8.RuneCountInString(text)
	offset, err := t.reader.CaretOffset(el)
	if err != nil || offset < 0 || offset > length {
		return length
	}
	return offset
}
