// Package overlay renders the suggestion popup and reports user actions.
package overlay

import (
	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// Action is a user decision taken on a displayed suggestion.
type Action int

const (
	// ActionAccept asks for the displayed suggestion to be injected.
	ActionAccept Action = iota
	// ActionDismiss withdraws the displayed suggestion.
	ActionDismiss
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionDismiss:
		return "dismiss"
	default:
		return "unknown"
	}
}

// Gateway is the presentation surface for suggestions. Show and Hide are
// called from the coordinator goroutine and must not block; actions flow
// back through the Actions channel.
type Gateway interface {
	// Show displays text near the bounding box of the focused field.
	// A second Show replaces the previous suggestion.
	Show(text string, box source.Rect)
	// Hide removes the current suggestion, if any.
	Hide()
	// Actions delivers accept and dismiss decisions.
	Actions() <-chan Action
	// Close tears down the presentation surface.
	Close()
}

// New returns the configured gateway: a windowed renderer when the
// overlay is enabled, otherwise a gateway that never shows anything.
func New(cfg config.OverlayConfig, logger *logging.Logger) Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if !cfg.Enabled {
		return NewNoop()
	}
	return newWindowGateway(cfg, logger.WithComponent("overlay"))
}
