//go:build linux

package source

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

func TestDecodeObjectEvent(t *testing.T) {
	detail, detail1, ok := decodeObjectEvent([]interface{}{"focused", int32(1)})
	if !ok || detail != "focused" || detail1 != 1 {
		t.Errorf("decode = %q, %d, %v", detail, detail1, ok)
	}

	if _, _, ok := decodeObjectEvent([]interface{}{"focused"}); ok {
		t.Error("short body should not decode")
	}
	if _, _, ok := decodeObjectEvent([]interface{}{int32(1), int32(1)}); ok {
		t.Error("wrong detail type should not decode")
	}
}

// Stop must not race the signal loop's sends: the loop owns the event
// channel close, and Stop waits for it.
func TestStopWaitsForSignalLoop(t *testing.T) {
	s := &atspiSource{
		logger:   logging.Default().WithComponent("source_atspi"),
		events:   make(chan Event, 1),
		signals:  make(chan *dbus.Signal, 64),
		loopDone: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel

	go s.signalLoop(ctx)

	// Keep the loop busy emitting while Stop runs. The events channel has
	// capacity 1, so sends exercise both the delivery and drop paths.
	for i := 0; i < 64; i++ {
		s.signals <- &dbus.Signal{
			Sender: ":1.7",
			Path:   "/widget/1",
			Name:   atspiEventObjectInterface + ".TextChanged",
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// After Stop returns the loop has exited and closed the channel.
	for {
		if _, ok := <-s.events; !ok {
			return
		}
	}
}

func TestHealthyRequiresConnection(t *testing.T) {
	s := &atspiSource{logger: logging.Default().WithComponent("source_atspi")}
	if err := s.Healthy(); err == nil {
		t.Error("stopped source should not report healthy")
	}
	s.running = true
	if err := s.Healthy(); err == nil {
		t.Error("source without a connection should not report healthy")
	}
}
