package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors.
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// Client is a synchronous control socket client. One request is in
// flight at a time.
type Client struct {
	mu         sync.Mutex
	conn       net.Conn
	socketPath string
	timeout    time.Duration
	nextReqID  atomic.Uint32
}

// ClientConfig configures the control socket client.
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Dial connects to the daemon's control socket.
func Dial(cfg ClientConfig) (*Client, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("unix", cfg.SocketPath)
	if err != nil {
		if _, statErr := os.Stat(cfg.SocketPath); os.IsNotExist(statErr) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Client{
		conn:       conn,
		socketPath: cfg.SocketPath,
		timeout:    cfg.RequestTimeout,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends a request and waits for its response.
func (c *Client) roundTrip(msgType MessageType, payload []byte) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	id := c.nextReqID.Add(1)
	req := NewMessage(msgType, id, payload)

	deadline := time.Now().Add(c.timeout)
	c.conn.SetDeadline(deadline)

	if err := req.Write(c.conn); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	for {
		resp, err := ReadMessage(c.conn)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		// Skip unsolicited messages.
		if resp.Header.RequestID != id {
			continue
		}
		if resp.Header.Type == MsgError {
			var e ErrorResponse
			if err := Decode(resp.Payload, &e); err != nil {
				return nil, fmt.Errorf("daemon error (undecodable)")
			}
			return nil, fmt.Errorf("daemon error %d: %s", e.Code, e.Message)
		}
		return resp, nil
	}
}

// Ping checks that the daemon is responsive.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type: 0x%04x", uint16(resp.Header.Type))
	}
	return nil
}

// Status fetches the daemon status report.
func (c *Client) Status(includeComponents bool) (*StatusResponse, error) {
	payload, err := Encode(&StatusRequest{IncludeComponents: includeComponents})
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(MsgStatusRequest, payload)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// Pause suspends suggestion generation.
func (c *Client) Pause() (*AckResponse, error) {
	return c.ack(MsgPause)
}

// Resume re-enables suggestion generation.
func (c *Client) Resume() (*AckResponse, error) {
	return c.ack(MsgResume)
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() (*AckResponse, error) {
	return c.ack(MsgShutdown)
}

func (c *Client) ack(msgType MessageType) (*AckResponse, error) {
	resp, err := c.roundTrip(msgType, nil)
	if err != nil {
		return nil, err
	}
	var ack AckResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	return &ack, nil
}
