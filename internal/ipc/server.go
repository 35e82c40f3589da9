package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MouseAndKeyboard/tabanywhere/internal/health"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// Daemon is the surface the control socket exposes. Implemented by the
// coordinator.
type Daemon interface {
	// Status reports the current daemon status.
	Status(ctx context.Context, includeComponents bool) health.Snapshot
	// SetPaused suspends or resumes suggestion generation and returns
	// the resulting paused state.
	SetPaused(paused bool) bool
	// Shutdown asks the daemon to exit.
	Shutdown()
}

// ServerConfig configures the control socket server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:     socketPath,
		Version:        "dev",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 16,
	}
}

// Server listens on a unix socket for control clients.
type Server struct {
	cfg    ServerConfig
	daemon Daemon
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewServer creates a control socket server.
func NewServer(cfg ServerConfig, daemon Daemon, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		daemon: daemon,
		logger: logger.WithComponent("ipc"),
		conns:  make(map[net.Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.logger.Info("control socket listening", "path", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener and all client connections.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	os.Remove(s.cfg.SocketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		ok, err := peerIsCurrentUser(conn)
		if err != nil {
			s.logger.Warn("peer credential check failed", "error", err)
			conn.Close()
			continue
		}
		if !ok {
			s.logger.Warn("rejected connection from other user")
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}

		resp := s.processMessage(msg)
		if resp == nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := resp.Write(conn); err != nil {
			return
		}
	}
}

func (s *Server) processMessage(msg *Message) *Message {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, id, nil)

	case MsgStatusRequest:
		var req StatusRequest
		if len(msg.Payload) > 0 {
			if err := Decode(msg.Payload, &req); err != nil {
				return NewErrorMessage(id, ErrCodeInvalidRequest, "invalid status request")
			}
		}
		snap := s.daemon.Status(s.ctx, req.IncludeComponents)
		resp, err := NewResponse(MsgStatusResponse, id, &StatusResponse{
			Version:  s.cfg.Version,
			Snapshot: snap,
		})
		if err != nil {
			return NewErrorMessage(id, ErrCodeInternal, err.Error())
		}
		return resp

	case MsgPause:
		paused := s.daemon.SetPaused(true)
		resp, _ := NewResponse(MsgPauseAck, id, &AckResponse{Success: true, Paused: paused})
		return resp

	case MsgResume:
		paused := s.daemon.SetPaused(false)
		resp, _ := NewResponse(MsgResumeAck, id, &AckResponse{Success: true, Paused: paused})
		return resp

	case MsgShutdown:
		resp, _ := NewResponse(MsgShutdownAck, id, &AckResponse{Success: true})
		// Acknowledge before the daemon starts tearing the socket down.
		go s.daemon.Shutdown()
		return resp

	default:
		return NewErrorMessage(id, ErrCodeInvalidRequest,
			fmt.Sprintf("unknown message type: 0x%04x", uint16(msg.Header.Type)))
	}
}
