package inject

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MouseAndKeyboard/tabanywhere/internal/provider"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source/sourcetest"
)

// fakeTool is an in-memory clipboard with failure injection.
type fakeTool struct {
	mu        sync.Mutex
	content   []byte
	history   [][]byte
	pasteErr  error
	pasteHold chan struct{} // when set, TriggerPaste blocks until closed or ctx done
	pastes    int
}

func (f *fakeTool) GetClipboard(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.content...), nil
}

func (f *fakeTool) SetClipboard(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = append([]byte(nil), data...)
	f.history = append(f.history, f.content)
	return nil
}

func (f *fakeTool) TriggerPaste(ctx context.Context) error {
	f.mu.Lock()
	hold := f.pasteHold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pastes++
	return f.pasteErr
}

func (f *fakeTool) clipboardNow() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.content)
}

type fixture struct {
	fake  *sourcetest.Fake
	tool  *fakeTool
	ctrl  *Controller
	dones chan Done
	el    source.ElementRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := sourcetest.New()
	el := source.ElementRef{Sender: ":1.5", Path: "/a/1"}
	fake.Texts[el] = "Hello wor"

	tool := &fakeTool{content: []byte("ABC")}
	dones := make(chan Done, 4)
	ctrl := NewController(fake, tool, 10*time.Millisecond, time.Second,
		func(d Done) { dones <- d }, nil)

	return &fixture{fake: fake, tool: tool, ctrl: ctrl, dones: dones, el: el}
}

func (fx *fixture) offer(t *testing.T, gen uint64, completion provider.Completion) {
	t.Helper()
	snapshot := fx.fake.Texts[fx.el]
	require.True(t, fx.ctrl.Offer(gen, fx.el, snapshot, completion))
	require.Equal(t, StateAwaitingAccept, fx.ctrl.State())
}

func TestDirectInjection(t *testing.T) {
	fx := newFixture(t)
	fx.offer(t, 1, provider.Completion{Text: "Hello world!"})

	outcome, err := fx.ctrl.Accept(1)
	require.NoError(t, err)
	require.Equal(t, OutcomeDirect, outcome)
	require.Equal(t, StateIdle, fx.ctrl.State())
	require.Equal(t, "Hello world!", fx.fake.Texts[fx.el])
	require.Equal(t, "ABC", fx.tool.clipboardNow(), "direct path must not touch the clipboard")
}

func TestContinuationAppends(t *testing.T) {
	fx := newFixture(t)
	fx.offer(t, 1, provider.Completion{Text: "ld!", Continuation: true})

	_, err := fx.ctrl.Accept(1)
	require.NoError(t, err)
	require.Equal(t, "Hello world!", fx.fake.Texts[fx.el])
}

func TestFallbackOnDeniedWrite(t *testing.T) {
	fx := newFixture(t)
	fx.fake.DenyDirectWrite = true
	fx.offer(t, 1, provider.Completion{Text: "Hello world!"})

	outcome, err := fx.ctrl.Accept(1)
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, outcome)
	require.Equal(t, StateFallbackPending, fx.ctrl.State())

	d := <-fx.dones
	require.NoError(t, fx.ctrl.HandleDone(d))
	require.Equal(t, StateIdle, fx.ctrl.State())

	require.Equal(t, 1, fx.tool.pastes)
	require.Equal(t, "ABC", fx.tool.clipboardNow(), "clipboard must be restored")
	// The suggestion text passed through the clipboard on the way.
	require.Contains(t, historyStrings(fx.tool), "Hello world!")
}

func historyStrings(tool *fakeTool) []string {
	tool.mu.Lock()
	defer tool.mu.Unlock()
	out := make([]string, len(tool.history))
	for i, h := range tool.history {
		out[i] = string(h)
	}
	return out
}

func TestFallbackOnVerificationMismatch(t *testing.T) {
	fx := newFixture(t)
	// The write is accepted but the field content does not change.
	fx.fake.WriteErr = nil
	fx.fake.DenyDirectWrite = false
	// Simulate a field that lies: direct write reports true but text stays.
	fx.fake.Texts[fx.el] = "immutable"
	lying := &lyingWriter{fake: fx.fake}
	fx.ctrl.writer = lying

	fx.offer(t, 1, provider.Completion{Text: "replacement"})
	outcome, err := fx.ctrl.Accept(1)
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, outcome)

	d := <-fx.dones
	fx.ctrl.HandleDone(d)
	require.Equal(t, "ABC", fx.tool.clipboardNow())
}

// lyingWriter accepts writes without applying them.
type lyingWriter struct {
	fake *sourcetest.Fake
}

func (w *lyingWriter) FullText(el source.ElementRef) (string, error) {
	return w.fake.FullText(el)
}

func (w *lyingWriter) SetTextDirect(el source.ElementRef, text string) (bool, error) {
	return true, nil
}

func TestPasteFailureStillRestoresClipboard(t *testing.T) {
	fx := newFixture(t)
	fx.fake.DenyDirectWrite = true
	fx.tool.pasteErr = errors.New("xdotool exploded")

	fx.offer(t, 1, provider.Completion{Text: "Hello world!"})
	_, err := fx.ctrl.Accept(1)
	require.NoError(t, err)

	d := <-fx.dones
	require.Error(t, fx.ctrl.HandleDone(d))
	require.Equal(t, StateIdle, fx.ctrl.State())
	require.Equal(t, "ABC", fx.tool.clipboardNow(), "clipboard restored despite paste failure")
}

func TestAbortDuringFallbackRestoresClipboard(t *testing.T) {
	fx := newFixture(t)
	fx.fake.DenyDirectWrite = true
	hold := make(chan struct{})
	fx.tool.pasteHold = hold

	fx.offer(t, 1, provider.Completion{Text: "Hello world!"})
	_, err := fx.ctrl.Accept(1)
	require.NoError(t, err)

	// Focus moves on while the paste is stuck; abort the operation.
	fx.ctrl.Abort()

	d := <-fx.dones
	require.Error(t, d.Err, "aborted fallback should report cancellation")
	fx.ctrl.HandleDone(d)
	require.Equal(t, StateIdle, fx.ctrl.State())
	require.Equal(t, "ABC", fx.tool.clipboardNow(), "clipboard restored after abort")
	require.Equal(t, 0, fx.tool.pastes, "no paste should land after abort")
}

func TestStaleAcceptRejected(t *testing.T) {
	fx := newFixture(t)
	fx.offer(t, 3, provider.Completion{Text: "late"})

	_, err := fx.ctrl.Accept(4)
	require.Error(t, err)
	require.Equal(t, StateIdle, fx.ctrl.State())
	require.Equal(t, 0, fx.fake.DirectWrites, "no write may target the wrong field")
}

func TestAcceptWithoutOffer(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.ctrl.Accept(1)
	require.ErrorIs(t, err, ErrNoOffer)
}

func TestOfferRefusedDuringFallback(t *testing.T) {
	fx := newFixture(t)
	fx.fake.DenyDirectWrite = true
	hold := make(chan struct{})
	fx.tool.pasteHold = hold

	fx.offer(t, 1, provider.Completion{Text: "first"})
	_, err := fx.ctrl.Accept(1)
	require.NoError(t, err)

	// Only one clipboard cycle may be outstanding.
	require.False(t, fx.ctrl.Offer(2, fx.el, "", provider.Completion{Text: "second"}))

	close(hold)
	d := <-fx.dones
	fx.ctrl.HandleDone(d)
	require.True(t, fx.ctrl.Offer(2, fx.el, "", provider.Completion{Text: "second"}))
}

func TestDismissWithdrawsOffer(t *testing.T) {
	fx := newFixture(t)
	fx.offer(t, 1, provider.Completion{Text: "x"})
	fx.ctrl.Dismiss()
	require.Equal(t, StateIdle, fx.ctrl.State())
	_, err := fx.ctrl.Accept(1)
	require.ErrorIs(t, err, ErrNoOffer)
}

func TestBackupRestoreExactlyOnce(t *testing.T) {
	tool := &fakeTool{content: []byte("original")}
	backup, err := TakeBackup(context.Background(), tool, time.Second)
	require.NoError(t, err)

	tool.SetClipboard(context.Background(), []byte("scratch"))
	require.NoError(t, backup.Restore())
	require.Equal(t, "original", tool.clipboardNow())
	require.True(t, backup.Restored())

	// Second restore is a no-op even if the clipboard changed again.
	tool.SetClipboard(context.Background(), []byte("changed since"))
	require.NoError(t, backup.Restore())
	require.Equal(t, "changed since", tool.clipboardNow())
}
