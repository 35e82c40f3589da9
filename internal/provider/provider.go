// Package provider implements the suggestion provider clients.
//
// A provider maps a text snapshot plus field context to one candidate
// completion. The HTTP provider talks to a local completion endpoint; the
// stub provider answers locally and exists for demos and tests.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// ErrEmpty indicates the provider answered with no usable completion.
// Treated like any other provider failure: the overlay stays hidden and the
// next debounce cycle retries naturally.
var ErrEmpty = errors.New("provider: empty completion")

// Request is one outbound suggestion query.
type Request struct {
	// Prompt is the full text snapshot of the field at request time.
	Prompt string

	// Label is the field's accessible label, if any.
	Label string

	// WindowTitle is the title of the window containing the field.
	WindowTitle string
}

// Completion is a candidate suggestion.
type Completion struct {
	// Text is the completion content.
	Text string

	// Continuation marks the text as append-only: it extends the prompt
	// instead of replacing the field content.
	Continuation bool
}

// Client is a stateless request/response suggestion backend.
type Client interface {
	// RequestCompletion issues one query. The context carries the caller's
	// timeout; implementations must honor cancellation.
	RequestCompletion(ctx context.Context, req Request) (Completion, error)
}

// New builds the configured provider client, wrapped in a cache when
// caching is enabled.
func New(cfg config.ProviderConfig, logger *logging.Logger) (Client, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var client Client
	switch cfg.Mode {
	case "http":
		c, err := NewHTTPClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		client = c
	case "stub":
		client = NewStub()
	default:
		return nil, fmt.Errorf("provider: unknown mode %q", cfg.Mode)
	}

	if cfg.CacheSize > 0 {
		client = NewCachedClient(client, cfg.CacheSize)
	}
	return client, nil
}
