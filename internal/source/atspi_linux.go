//go:build linux

package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// AT-SPI D-Bus constants.
const (
	a11yBusService   = "org.a11y.Bus"
	a11yBusPath      = "/org/a11y/bus"
	a11yBusInterface = "org.a11y.Bus"

	atspiRegistryService   = "org.a11y.atspi.Registry"
	atspiRegistryPath      = "/org/a11y/atspi/registry"
	atspiRegistryInterface = "org.a11y.atspi.Registry"

	atspiAccessibleInterface   = "org.a11y.atspi.Accessible"
	atspiTextInterface         = "org.a11y.atspi.Text"
	atspiEditableTextInterface = "org.a11y.atspi.EditableText"
	atspiComponentInterface    = "org.a11y.atspi.Component"
	atspiEventObjectInterface  = "org.a11y.atspi.Event.Object"

	// Screen coordinates for Component.GetExtents.
	atspiCoordTypeScreen uint32 = 0
)

// Bit position of the EDITABLE flag in the AT-SPI state set.
const atspiStateEditable = 7

// Events the registry is asked to deliver.
var atspiEventSelectors = []string{
	"object:state-changed:focused",
	"object:text-changed:insert",
	"object:text-changed:delete",
}

// atspiSource implements Source on the Linux accessibility bus.
type atspiSource struct {
	cfg    config.SourceConfig
	logger *logging.Logger

	mu       sync.Mutex
	conn     *dbus.Conn
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	events  chan Event
	signals chan *dbus.Signal

	// Last element we reported focus gained for, so focus-lost signals for
	// unrelated elements can be attributed.
	focused ElementRef
}

func newPlatformSource(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	if logger == nil {
		logger = logging.Default()
	}
	return &atspiSource{
		cfg:     cfg,
		logger:  logger.WithComponent("source_atspi"),
		events:  make(chan Event, 64),
		signals: make(chan *dbus.Signal, 64),
	}, nil
}

// Start connects to the accessibility bus and subscribes to focus and
// text-change notifications.
func (s *atspiSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	conn, err := connectA11yBus()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	s.conn = conn

	registry := conn.Object(atspiRegistryService, atspiRegistryPath)
	for _, selector := range atspiEventSelectors {
		call := registry.Call(atspiRegistryInterface+".RegisterEvent", 0, selector)
		if call.Err != nil {
			conn.Close()
			return fmt.Errorf("%w: register %s: %v", ErrRegistration, selector, call.Err)
		}
	}

	matches := []dbus.MatchOption{
		dbus.WithMatchInterface(atspiEventObjectInterface),
	}
	if err := conn.AddMatchSignal(matches...); err != nil {
		conn.Close()
		return fmt.Errorf("%w: add match: %v", ErrRegistration, err)
	}

	conn.Signal(s.signals)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.loopDone = make(chan struct{})

	go s.signalLoop(runCtx)

	s.logger.Info("atspi source started", "selectors", len(atspiEventSelectors))
	return nil
}

// connectA11yBus resolves the accessibility bus address via the session bus
// and opens a private connection to it.
func connectA11yBus() (*dbus.Conn, error) {
	session, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}

	var address string
	obj := session.Object(a11yBusService, a11yBusPath)
	if err := obj.Call(a11yBusInterface+".GetAddress", 0).Store(&address); err != nil {
		return nil, fmt.Errorf("get a11y bus address: %w", err)
	}

	conn, err := dbus.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("connect a11y bus: %w", err)
	}
	return conn, nil
}

// Stop unsubscribes and waits for the signal loop to exit. The loop owns
// the event channel and closes it on the way out, so no send can race the
// close. Waiting happens outside the lock: the loop takes it while
// handling signals.
func (s *atspiSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	conn := s.conn
	done := s.loopDone
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.RemoveSignal(s.signals)
		conn.Close()
	}
	if done != nil {
		<-done
	}

	s.logger.Info("atspi source stopped")
	return nil
}

func (s *atspiSource) Events() <-chan Event {
	return s.events
}

// signalLoop translates raw bus signals into Events. It owns s.events:
// the channel is closed here and nowhere else.
func (s *atspiSource) signalLoop(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			s.handleSignal(sig)
		}
	}
}

func (s *atspiSource) handleSignal(sig *dbus.Signal) {
	el := ElementRef{Sender: sig.Sender, Path: string(sig.Path)}

	switch sig.Name {
	case atspiEventObjectInterface + ".StateChanged":
		detail, detail1, ok := decodeObjectEvent(sig.Body)
		if !ok || detail != "focused" {
			return
		}
		if detail1 == 1 {
			s.emitFocusGained(el)
		} else {
			s.emitFocusLost(el)
		}

	case atspiEventObjectInterface + ".TextChanged":
		s.emit(Event{Kind: TextChanged, Element: el, Timestamp: time.Now()})
	}
}

// decodeObjectEvent unpacks the (detail, detail1, detail2, any_data, props)
// body shared by org.a11y.atspi.Event.Object signals.
func decodeObjectEvent(body []interface{}) (detail string, detail1 int32, ok bool) {
	if len(body) < 2 {
		return "", 0, false
	}
	detail, ok = body[0].(string)
	if !ok {
		return "", 0, false
	}
	detail1, ok = body[1].(int32)
	return detail, detail1, ok
}

func (s *atspiSource) emitFocusGained(el ElementRef) {
	role, err := s.roleName(el)
	if err != nil {
		s.logger.Debug("role query failed", "element", el.String(), "error", err)
		return
	}

	editable, err := s.isEditable(el)
	if err != nil {
		s.logger.Debug("state query failed", "element", el.String(), "error", err)
		editable = false
	}

	s.mu.Lock()
	s.focused = el
	s.mu.Unlock()

	s.emit(Event{
		Kind:      FocusGained,
		Element:   el,
		Role:      role,
		Editable:  editable,
		Protected: strings.Contains(role, "password"),
		Timestamp: time.Now(),
	})
}

func (s *atspiSource) emitFocusLost(el ElementRef) {
	s.mu.Lock()
	tracked := s.focused
	if tracked == el {
		s.focused = ElementRef{}
	}
	s.mu.Unlock()

	// Focus-lost is only meaningful for the element we reported as focused.
	if tracked != el {
		return
	}
	s.emit(Event{Kind: FocusLost, Element: el, Timestamp: time.Now()})
}

func (s *atspiSource) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Consumer is behind. Drop rather than block the signal loop; the
		// coordinator always re-reads full state, so a lost notification is
		// recovered by the next one.
		s.logger.Warn("event channel full, dropping", "kind", ev.Kind.String())
	}
}

// roleName reads the localized role name, normalized to lower case.
func (s *atspiSource) roleName(el ElementRef) (string, error) {
	conn := s.connection()
	if conn == nil {
		return "", ErrRegistration
	}

	var role string
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	if err := obj.Call(atspiAccessibleInterface+".GetRoleName", 0).Store(&role); err != nil {
		return "", fmt.Errorf("get role name: %w", err)
	}
	return strings.ToLower(role), nil
}

// isEditable checks the EDITABLE bit of the element's state set.
func (s *atspiSource) isEditable(el ElementRef) (bool, error) {
	conn := s.connection()
	if conn == nil {
		return false, ErrRegistration
	}

	var states []uint32
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	if err := obj.Call(atspiAccessibleInterface+".GetState", 0).Store(&states); err != nil {
		return false, fmt.Errorf("get state: %w", err)
	}
	if len(states) == 0 {
		return false, nil
	}
	return states[0]&(1<<atspiStateEditable) != 0, nil
}

// FullText reads the element's complete text content. Never a diff: this is
// the canonical snapshot even when change notifications were missed or
// reordered.
func (s *atspiSource) FullText(el ElementRef) (string, error) {
	conn := s.connection()
	if conn == nil {
		return "", ErrRegistration
	}

	var text string
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	if err := obj.Call(atspiTextInterface+".GetText", 0, int32(0), int32(-1)).Store(&text); err != nil {
		return "", fmt.Errorf("get text: %w", err)
	}
	return text, nil
}

// CaretOffset reads the element's caret position.
func (s *atspiSource) CaretOffset(el ElementRef) (int, error) {
	conn := s.connection()
	if conn == nil {
		return 0, ErrRegistration
	}

	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	v, err := obj.GetProperty(atspiTextInterface + ".CaretOffset")
	if err != nil {
		return 0, fmt.Errorf("get caret offset: %w", err)
	}
	var offset int32
	if err := v.Store(&offset); err != nil {
		return 0, fmt.Errorf("decode caret offset: %w", err)
	}
	return int(offset), nil
}

// BoundingBox reads the element's screen extents.
func (s *atspiSource) BoundingBox(el ElementRef) (Rect, error) {
	conn := s.connection()
	if conn == nil {
		return Rect{}, ErrRegistration
	}

	var extents struct {
		X, Y, Width, Height int32
	}
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	if err := obj.Call(atspiComponentInterface+".GetExtents", 0, atspiCoordTypeScreen).Store(&extents); err != nil {
		return Rect{}, fmt.Errorf("get extents: %w", err)
	}
	return Rect{
		X:      int(extents.X),
		Y:      int(extents.Y),
		Width:  int(extents.Width),
		Height: int(extents.Height),
	}, nil
}

// Context reads the field label and the title of the enclosing toplevel.
func (s *atspiSource) Context(el ElementRef) (FieldContext, error) {
	conn := s.connection()
	if conn == nil {
		return FieldContext{}, ErrRegistration
	}

	fc := FieldContext{}
	fc.Label = s.accessibleName(conn, el)
	fc.WindowTitle = s.windowTitle(conn, el)
	return fc, nil
}

// accessibleName reads the Name property; empty on error.
func (s *atspiSource) accessibleName(conn *dbus.Conn, el ElementRef) string {
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	variant, err := obj.GetProperty(atspiAccessibleInterface + ".Name")
	if err != nil {
		return ""
	}
	name, _ := variant.Value().(string)
	return name
}

// windowTitle walks up the accessible tree looking for a toplevel frame.
func (s *atspiSource) windowTitle(conn *dbus.Conn, el ElementRef) string {
	current := el
	for depth := 0; depth < 16; depth++ {
		parent, ok := s.parentOf(conn, current)
		if !ok || parent.IsZero() {
			return ""
		}

		role, err := s.roleName(parent)
		if err != nil {
			return ""
		}
		if role == "frame" || role == "window" || role == "dialog" {
			return s.accessibleName(conn, parent)
		}
		current = parent
	}
	return ""
}

// parentOf reads the Parent property, a (busname, path) pair.
func (s *atspiSource) parentOf(conn *dbus.Conn, el ElementRef) (ElementRef, bool) {
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	variant, err := obj.GetProperty(atspiAccessibleInterface + ".Parent")
	if err != nil {
		return ElementRef{}, false
	}

	pair, ok := variant.Value().([]interface{})
	if !ok || len(pair) != 2 {
		return ElementRef{}, false
	}
	sender, ok1 := pair[0].(string)
	path, ok2 := pair[1].(dbus.ObjectPath)
	if !ok1 || !ok2 {
		return ElementRef{}, false
	}

	// The registry's null object marks the root of the tree.
	if sender == atspiRegistryService || string(path) == "/org/a11y/atspi/null" {
		return ElementRef{}, false
	}
	return ElementRef{Sender: sender, Path: string(path)}, true
}

// SetTextDirect replaces the element's entire text via EditableText.
// A false result without error means the write was refused and the caller
// should fall back to paste injection.
func (s *atspiSource) SetTextDirect(el ElementRef, text string) (bool, error) {
	conn := s.connection()
	if conn == nil {
		return false, ErrRegistration
	}

	var accepted bool
	obj := conn.Object(el.Sender, dbus.ObjectPath(el.Path))
	call := obj.Call(atspiEditableTextInterface+".SetTextContents", 0, text)
	if call.Err != nil {
		if dbusErr, ok := call.Err.(dbus.Error); ok && strings.Contains(dbusErr.Name, "UnknownInterface") {
			return false, ErrUnsupported
		}
		return false, fmt.Errorf("set text contents: %w", call.Err)
	}
	if err := call.Store(&accepted); err != nil {
		return false, fmt.Errorf("set text contents result: %w", err)
	}
	return accepted, nil
}

func (s *atspiSource) connection() *dbus.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Healthy reports whether the accessibility bus connection is up.
func (s *atspiSource) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.conn == nil {
		return ErrRegistration
	}
	if !s.conn.Connected() {
		return fmt.Errorf("accessibility bus connection lost")
	}
	return nil
}
