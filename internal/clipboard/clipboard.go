// Package clipboard invokes external clipboard and paste tools.
//
// Clipboard reads and writes go through xclip, xsel, or the wl-clipboard
// tools, whichever is present; paste simulation goes through xdotool, wtype,
// or ydotool. Every invocation is time-boxed: these are the only blocking
// external calls in the daemon.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrPaste indicates the paste simulation failed or timed out. The caller
// treats the suggestion as dismissed; this is never fatal.
var ErrPaste = errors.New("clipboard: paste trigger failed")

// ErrNoTool indicates no suitable external tool is installed.
var ErrNoTool = errors.New("clipboard: no clipboard tool available")

// Tool is the external clipboard/paste capability consumed by the injection
// controller.
type Tool interface {
	// GetClipboard reads the current clipboard content.
	GetClipboard(ctx context.Context) ([]byte, error)

	// SetClipboard replaces the clipboard content.
	SetClipboard(ctx context.Context, data []byte) error

	// TriggerPaste simulates a paste keystroke into the focused window.
	TriggerPaste(ctx context.Context) error
}

// command names tried in order for each capability.
var (
	readChains = [][]string{
		{"xclip", "-selection", "clipboard", "-o"},
		{"xsel", "--clipboard", "--output"},
		{"wl-paste", "--no-newline"},
	}
	writeChains = [][]string{
		{"xclip", "-selection", "clipboard"},
		{"xsel", "--clipboard", "--input"},
		{"wl-copy"},
	}
	pasteChains = [][]string{
		{"xdotool", "key", "--clearmodifiers", "ctrl+v"},
		{"wtype", "-M", "ctrl", "v", "-m", "ctrl"},
		{"ydotool", "key", "ctrl+v"},
	}
)

// ExecTool shells out to the first working tool of each chain.
type ExecTool struct {
	// Timeout bounds each individual tool invocation.
	Timeout time.Duration
}

// NewExecTool returns a Tool invoking external processes with the given
// per-invocation timeout.
func NewExecTool(timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ExecTool{Timeout: timeout}
}

// GetClipboard reads the clipboard through the first working reader.
// An empty clipboard is not an error: some tools exit non-zero for it, so a
// failed read with no prior success falls through the chain and ends as
// empty content.
func (t *ExecTool) GetClipboard(ctx context.Context) ([]byte, error) {
	var lastErr error
	for _, chain := range readChains {
		out, err := t.run(ctx, chain, nil)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	if lastErr != nil && allMissing(lastErr) {
		return nil, ErrNoTool
	}
	// Treat a chain-wide failure as an empty clipboard: xclip exits
	// non-zero when no selection exists.
	return nil, nil
}

// SetClipboard writes data through the first working writer.
func (t *ExecTool) SetClipboard(ctx context.Context, data []byte) error {
	var lastErr error
	for _, chain := range writeChains {
		if _, err := t.run(ctx, chain, data); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil && allMissing(lastErr) {
		return ErrNoTool
	}
	return fmt.Errorf("clipboard: set failed: %w", lastErr)
}

// TriggerPaste simulates Ctrl+V through the first working injector.
func (t *ExecTool) TriggerPaste(ctx context.Context) error {
	var lastErr error
	for _, chain := range pasteChains {
		if _, err := t.run(ctx, chain, nil); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: %v", ErrPaste, lastErr)
}

// run executes one tool with stdin and a bounded deadline.
func (t *ExecTool) run(ctx context.Context, argv []string, stdin []byte) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", argv[0], runCtx.Err())
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}

func allMissing(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
