package inject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MouseAndKeyboard/tabanywhere/internal/clipboard"
)

// ClipboardBackup holds the user's clipboard content during a fallback
// injection. Every backup taken is restored exactly once, on every exit
// path of the enclosing operation.
type ClipboardBackup struct {
	tool    clipboard.Tool
	timeout time.Duration

	mu       sync.Mutex
	data     []byte
	takenAt  time.Time
	restored bool
}

// TakeBackup reads and stores the current clipboard content.
func TakeBackup(ctx context.Context, tool clipboard.Tool, timeout time.Duration) (*ClipboardBackup, error) {
	data, err := tool.GetClipboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("inject: backup clipboard: %w", err)
	}
	return &ClipboardBackup{
		tool:    tool,
		timeout: timeout,
		data:    data,
		takenAt: time.Now(),
	}, nil
}

// Restore writes the backed-up content back. Idempotent: only the first
// call restores. It runs under its own deadline detached from the
// operation's context, so cancellation of the operation cannot skip it.
func (b *ClipboardBackup) Restore() error {
	b.mu.Lock()
	if b.restored {
		b.mu.Unlock()
		return nil
	}
	b.restored = true
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.tool.SetClipboard(ctx, b.data); err != nil {
		return fmt.Errorf("inject: restore clipboard: %w", err)
	}
	return nil
}

// Restored reports whether the backup has been written back.
func (b *ClipboardBackup) Restored() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restored
}
