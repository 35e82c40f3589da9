package overlay

import (
	"image/color"
	"sync"

	"gioui.org/app"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
	"github.com/MouseAndKeyboard/tabanywhere/internal/source"
)

// palette for the popup. Dark, low-contrast ghost text so the suggestion
// reads as tentative rather than committed.
type palette struct {
	Background color.NRGBA
	Border     color.NRGBA
	Ghost      color.NRGBA
	Hint       color.NRGBA
	Primary    color.NRGBA
}

func defaultPalette() palette {
	return palette{
		Background: color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xF2},
		Border:     color.NRGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xFF},
		Ghost:      color.NRGBA{R: 0xA0, G: 0xA0, B: 0xA0, A: 0xFF},
		Hint:       color.NRGBA{R: 0x6E, G: 0x6E, B: 0x6E, A: 0xFF},
		Primary:    color.NRGBA{R: 0x00, G: 0x78, B: 0xD4, A: 0xFF},
	}
}

// windowGateway runs a small undecorated Gio window showing the current
// suggestion. The window render loop owns the Gio state; Show and Hide
// hand it new content through showMsg.
type windowGateway struct {
	cfg     config.OverlayConfig
	logger  *logging.Logger
	actions chan Action

	mu      sync.Mutex
	text    string
	visible bool

	window  *app.Window
	once    sync.Once
	closed  chan struct{}
	accept  widget.Clickable
	dismiss widget.Clickable
}

func newWindowGateway(cfg config.OverlayConfig, logger *logging.Logger) *windowGateway {
	g := &windowGateway{
		cfg:     cfg,
		logger:  logger,
		actions: make(chan Action, 4),
		closed:  make(chan struct{}),
	}
	go g.run()
	return g
}

func (g *windowGateway) run() {
	w := new(app.Window)
	w.Option(
		app.Title("tabanywhere"),
		app.Size(unit.Dp(g.cfg.MaxWidth), unit.Dp(72)),
		app.Decorated(false),
	)
	g.mu.Lock()
	g.window = w
	g.mu.Unlock()

	if err := g.loop(w); err != nil {
		g.logger.Error("overlay window closed", "error", err)
	}
}

func (g *windowGateway) loop(w *app.Window) error {
	th := material.NewTheme()
	pal := defaultPalette()

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			g.frame(gtx, th, pal)
			e.Frame(gtx.Ops)
		}
	}
}

func (g *windowGateway) frame(gtx layout.Context, th *material.Theme, pal palette) {
	if g.accept.Clicked(gtx) {
		g.emit(ActionAccept)
	}
	if g.dismiss.Clicked(gtx) {
		g.emit(ActionDismiss)
	}

	g.mu.Lock()
	text := g.text
	visible := g.visible
	g.mu.Unlock()
	if !visible {
		return
	}

	paint.Fill(gtx.Ops, pal.Background)
	border := clip.Rect{Max: gtx.Constraints.Max}.Op()
	paint.FillShape(gtx.Ops, pal.Border, border)

	layout.UniformInset(unit.Dp(8)).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Body1(th, text)
				l.Color = pal.Ghost
				l.MaxLines = 2
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Height: unit.Dp(4)}.Layout),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						b := material.Button(th, &g.accept, "Tab")
						b.Background = pal.Primary
						b.TextSize = unit.Sp(11)
						return b.Layout(gtx)
					}),
					layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						b := material.Button(th, &g.dismiss, "Esc")
						b.Background = pal.Border
						b.TextSize = unit.Sp(11)
						return b.Layout(gtx)
					}),
					layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
						l := material.Caption(th, "suggestion")
						l.Color = pal.Hint
						return layout.E.Layout(gtx, l.Layout)
					}),
				)
			}),
		)
	})
}

// emit hands an action to the coordinator without blocking the frame.
func (g *windowGateway) emit(a Action) {
	select {
	case g.actions <- a:
	default:
		g.logger.Warn("overlay action dropped", "action", a.String())
	}
}

// Show replaces the displayed suggestion. Placement is up to the
// compositor on Wayland, but the popup width tracks the focused field so
// the ghost text lines up with it.
func (g *windowGateway) Show(text string, box source.Rect) {
	g.mu.Lock()
	g.text = text
	g.visible = true
	w := g.window
	g.mu.Unlock()
	if w != nil {
		w.Option(app.Size(unit.Dp(popupWidth(box, g.cfg.MaxWidth)), unit.Dp(72)))
		w.Invalidate()
	}
}

// popupWidth clamps the field's width to a usable popup range.
func popupWidth(box source.Rect, maxWidth int) int {
	width := box.Width
	if width < 160 {
		width = 160
	}
	if width > maxWidth {
		width = maxWidth
	}
	return width
}

func (g *windowGateway) Hide() {
	g.mu.Lock()
	g.text = ""
	g.visible = false
	w := g.window
	g.mu.Unlock()
	if w != nil {
		w.Invalidate()
	}
}

func (g *windowGateway) Actions() <-chan Action { return g.actions }

func (g *windowGateway) Close() {
	g.once.Do(func() {
		close(g.closed)
		g.mu.Lock()
		w := g.window
		g.mu.Unlock()
		if w != nil {
			w.Perform(system.ActionClose)
		}
	})
}
