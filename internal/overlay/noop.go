package overlay

import "github.com/MouseAndKeyboard/tabanywhere/internal/source"

// Noop is a gateway that displays nothing and never emits actions. Used
// when the overlay is disabled and in headless tests.
type Noop struct {
	actions chan Action
}

// NewNoop returns a disabled gateway.
func NewNoop() *Noop {
	return &Noop{actions: make(chan Action)}
}

func (n *Noop) Show(text string, box source.Rect) {}

func (n *Noop) Hide() {}

func (n *Noop) Actions() <-chan Action { return n.actions }

func (n *Noop) Close() {}
