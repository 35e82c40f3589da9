package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// completionSchema constrains provider responses before they are trusted.
const completionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "completion": {"type": "string"},
    "continuation": {"type": "boolean"}
  },
  "required": ["completion"]
}`

// completionPayload is the request body sent to the endpoint.
type completionPayload struct {
	Prompt      string  `json:"prompt"`
	Context     string  `json:"context"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// completionResponse is the response body read from the endpoint.
type completionResponse struct {
	Completion   string `json:"completion"`
	Continuation bool   `json:"continuation"`
}

// HTTPClient queries an HTTP completion endpoint.
type HTTPClient struct {
	endpoint    string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	schema      *jsonschema.Schema
	logger      *logging.Logger
}

// NewHTTPClient builds a client for the configured endpoint.
func NewHTTPClient(cfg config.ProviderConfig, logger *logging.Logger) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("provider: endpoint required")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("completion.schema.json", strings.NewReader(completionSchema)); err != nil {
		return nil, fmt.Errorf("provider: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("completion.schema.json")
	if err != nil {
		return nil, fmt.Errorf("provider: compile schema: %w", err)
	}

	return &HTTPClient{
		endpoint:    cfg.Endpoint,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		schema:      schema,
		logger:      logger.WithComponent("provider_http"),
	}, nil
}

// RequestCompletion posts the prompt and context to the endpoint and reads
// back one completion.
func (c *HTTPClient) RequestCompletion(ctx context.Context, req Request) (Completion, error) {
	payload := completionPayload{
		Prompt:      req.Prompt,
		Context:     mergeContext(req),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("provider: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("provider: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("provider: endpoint returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("provider: read response: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return Completion{}, fmt.Errorf("provider: decode response: %w", err)
	}
	if err := c.schema.Validate(instance); err != nil {
		return Completion{}, fmt.Errorf("provider: response rejected by schema: %w", err)
	}

	var decoded completionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Completion{}, fmt.Errorf("provider: decode response: %w", err)
	}

	text := strings.TrimSpace(decoded.Completion)
	if text == "" {
		return Completion{}, ErrEmpty
	}

	return Completion{Text: text, Continuation: decoded.Continuation}, nil
}

// mergeContext folds field label and window title into the context string
// the endpoint expects.
func mergeContext(req Request) string {
	parts := make([]string, 0, 2)
	if req.Label != "" {
		parts = append(parts, "field: "+req.Label)
	}
	if req.WindowTitle != "" {
		parts = append(parts, "window: "+req.WindowTitle)
	}
	return strings.Join(parts, "; ")
}
