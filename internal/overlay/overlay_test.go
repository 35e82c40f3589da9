package overlay

import (
	"testing"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

func TestActionString(t *testing.T) {
	if got := ActionAccept.String(); got != "accept" {
		t.Errorf("ActionAccept.String() = %q", got)
	}
	if got := ActionDismiss.String(); got != "dismiss" {
		t.Errorf("ActionDismiss.String() = %q", got)
	}
}

func TestPopupWidthTracksField(t *testing.T) {
	cases := []struct {
		field, max, want int
	}{
		{field: 320, max: 480, want: 320},
		{field: 40, max: 480, want: 160},
		{field: 900, max: 480, want: 480},
	}
	for _, c := range cases {
		got := popupWidth(source.Rect{Width: c.field}, c.max)
		if got != c.want {
			t.Errorf("popupWidth(width=%d, max=%d) = %d, want %d", c.field, c.max, got, c.want)
		}
	}
}

func TestDisabledGatewayIsNoop(t *testing.T) {
	g := New(config.OverlayConfig{Enabled: false}, nil)
	if _, ok := g.(*Noop); !ok {
		t.Fatalf("expected Noop gateway, got %T", g)
	}

	// All operations must be safe and silent.
	g.Show("hello", source.Rect{X: 1, Y: 2, Width: 100, Height: 20})
	g.Hide()
	g.Close()

	select {
	case a := <-g.Actions():
		t.Fatalf("noop gateway emitted %v", a)
	default:
	}
}
