package ipc

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MouseAndKeyboard/tabanywhere/internal/health"
)

type fakeDaemon struct {
	paused    atomic.Bool
	shutdowns atomic.Int32
}

func (d *fakeDaemon) Status(ctx context.Context, includeComponents bool) health.Snapshot {
	return health.Snapshot{
		Status:     health.StatusHealthy,
		Ready:      true,
		Paused:     d.paused.Load(),
		Generation: 42,
		Timestamp:  time.Now(),
	}
}

func (d *fakeDaemon) SetPaused(paused bool) bool {
	d.paused.Store(paused)
	return paused
}

func (d *fakeDaemon) Shutdown() {
	d.shutdowns.Add(1)
}

func startServer(t *testing.T) (*Server, *fakeDaemon, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ctl.sock")
	daemon := &fakeDaemon{}
	srv := NewServer(DefaultServerConfig(sock), daemon, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, daemon, sock
}

func dial(t *testing.T, sock string) *Client {
	t.Helper()
	c, err := Dial(DefaultClientConfig(sock))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPing(t *testing.T) {
	_, _, sock := startServer(t)
	c := dial(t, sock)
	require.NoError(t, c.Ping())
}

func TestStatusRoundTrip(t *testing.T) {
	_, _, sock := startServer(t)
	c := dial(t, sock)

	status, err := c.Status(false)
	require.NoError(t, err)
	require.True(t, status.Snapshot.Ready)
	require.Equal(t, uint64(42), status.Snapshot.Generation)
	require.Equal(t, health.StatusHealthy, status.Snapshot.Status)
}

func TestPauseResume(t *testing.T) {
	_, daemon, sock := startServer(t)
	c := dial(t, sock)

	ack, err := c.Pause()
	require.NoError(t, err)
	require.True(t, ack.Success)
	require.True(t, ack.Paused)
	require.True(t, daemon.paused.Load())

	ack, err = c.Resume()
	require.NoError(t, err)
	require.False(t, ack.Paused)
	require.False(t, daemon.paused.Load())
}

func TestShutdown(t *testing.T) {
	_, daemon, sock := startServer(t)
	c := dial(t, sock)

	ack, err := c.Shutdown()
	require.NoError(t, err)
	require.True(t, ack.Success)

	require.Eventually(t, func() bool {
		return daemon.shutdowns.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDialWithoutDaemon(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "absent.sock")
	_, err := Dial(DefaultClientConfig(sock))
	require.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)
	msg.Header.Magic = 0xDEADBEEF

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid magic")
}

func TestMessageFraming(t *testing.T) {
	payload, err := Encode(&StatusRequest{IncludeComponents: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewMessage(MsgStatusRequest, 7, payload).Write(&buf))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgStatusRequest, got.Header.Type)
	require.Equal(t, uint32(7), got.Header.RequestID)

	var req StatusRequest
	require.NoError(t, Decode(got.Payload, &req))
	require.True(t, req.IncludeComponents)
}

func TestUnknownTypeReturnsError(t *testing.T) {
	_, _, sock := startServer(t)
	c := dial(t, sock)

	_, err := c.roundTrip(MessageType(0x7777), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown message type")
}
