// Package sourcetest provides an in-memory Source for tests.
package sourcetest

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// Fake is a scriptable in-memory event source.
type Fake struct {
	mu sync.Mutex

	// Texts maps element refs to their current full text.
	Texts map[source.ElementRef]string

	// Boxes maps element refs to bounding boxes.
	Boxes map[source.ElementRef]source.Rect

	// Contexts maps element refs to field contexts.
	Contexts map[source.ElementRef]source.FieldContext

	// Carets maps element refs to caret offsets. Elements without an entry
	// report the end of their text.
	Carets map[source.ElementRef]int

	// DenyDirectWrite makes SetTextDirect report false without mutating.
	DenyDirectWrite bool

	// WriteErr, when set, is returned by SetTextDirect.
	WriteErr error

	// DirectWrites counts SetTextDirect attempts.
	DirectWrites int

	events  chan source.Event
	started bool
}

// New returns an empty fake source.
func New() *Fake {
	return &Fake{
		Texts:    make(map[source.ElementRef]string),
		Boxes:    make(map[source.ElementRef]source.Rect),
		Contexts: make(map[source.ElementRef]source.FieldContext),
		Carets:   make(map[source.ElementRef]int),
		events:   make(chan source.Event, 32),
	}
}

func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		f.started = false
		close(f.events)
	}
	return nil
}

func (f *Fake) Events() <-chan source.Event {
	return f.events
}

// Emit pushes an event to consumers.
func (f *Fake) Emit(ev source.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	f.events <- ev
}

// EmitFocusGained is shorthand for an eligible entry field gaining focus.
func (f *Fake) EmitFocusGained(el source.ElementRef, role string, editable, protected bool) {
	f.Emit(source.Event{
		Kind:      source.FocusGained,
		Element:   el,
		Role:      role,
		Editable:  editable,
		Protected: protected,
	})
}

// SetText updates an element's text and emits a TextChanged event.
func (f *Fake) SetText(el source.ElementRef, text string) {
	f.mu.Lock()
	f.Texts[el] = text
	f.mu.Unlock()
	f.Emit(source.Event{Kind: source.TextChanged, Element: el})
}

func (f *Fake) FullText(el source.ElementRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Texts[el], nil
}

func (f *Fake) CaretOffset(el source.ElementRef) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset, ok := f.Carets[el]; ok {
		return offset, nil
	}
	return utf8.RuneCountInString(f.Texts[el]), nil
}

func (f *Fake) BoundingBox(el source.ElementRef) (source.Rect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Boxes[el], nil
}

func (f *Fake) Context(el source.ElementRef) (source.FieldContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Contexts[el], nil
}

func (f *Fake) SetTextDirect(el source.ElementRef, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DirectWrites++
	if f.WriteErr != nil {
		return false, f.WriteErr
	}
	if f.DenyDirectWrite {
		return false, nil
	}
	f.Texts[el] = text
	return true, nil
}
