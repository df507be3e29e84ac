// Package tui hosts the calendar card in a terminal. It renders the card's
// views with lipgloss, reveals the agenda one batch per frame and feeds
// mouse press, drag and release into the card's gesture machine.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"panelcal/internal/agenda"
	"panelcal/internal/card"
	"panelcal/internal/gesture"
)

const (
	// batchSize is the number of agenda items revealed per frame.
	batchSize     = 4
	frameInterval = 50 * time.Millisecond
	timeWidth     = 16
	defaultWidth  = 60

	// Screen rows: header, then the card's top border, then its body.
	headerRows = 1
	bodyTop    = headerRows + 1

	// mousePointer is the pointer ID of the terminal mouse.
	mousePointer = 1
)

type frameMsg time.Time

// Options wires a Model.
type Options struct {
	Card     *card.Card
	Renderer *Renderer
	// Machine and Overlay are optional; without them the card ignores
	// the mouse.
	Machine *gesture.Machine
	Overlay *Overlay
	// Bus receives the "reset gestures" key as a navigation.
	Bus     *gesture.Bus
	Context context.Context
}

// Model is the root Bubble Tea model.
type Model struct {
	card     *card.Card
	renderer *Renderer
	machine  *gesture.Machine
	overlay  *Overlay
	bus      *gesture.Bus
	ctx      context.Context

	width  int
	height int

	view     card.View
	batches  [][]agenda.Day
	revealed int

	help     help.Model
	showHelp bool
}

func New(opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Renderer == nil {
		opts.Renderer = NewRenderer()
	}
	if opts.Overlay == nil {
		opts.Overlay = NewOverlay()
	}
	h := help.New()
	h.ShowAll = false

	return Model{
		card:     opts.Card,
		renderer: opts.Renderer,
		machine:  opts.Machine,
		overlay:  opts.Overlay,
		bus:      opts.Bus,
		ctx:      opts.Context,
		help:     h,
	}
}

// Run shows the card until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	opts.Context = ctx
	p := tea.NewProgram(New(opts),
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.renderer.next(),
		frameCmd(),
		m.trigger(card.TriggerVisible),
	)
}

func frameCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

// trigger starts a card update off the event loop.
func (m Model) trigger(t card.Trigger) tea.Cmd {
	return func() tea.Msg {
		m.card.Async(m.ctx, t)
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case viewMsg:
		m.setView(card.View(msg))
		return m, m.renderer.next()

	case frameMsg:
		if m.revealed < len(m.batches) {
			m.revealed++
		}
		return m, frameCmd()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.trigger(card.TriggerForceRefresh)
		case key.Matches(msg, keys.Expand):
			m.card.ToggleExpanded()
			return m, nil
		case key.Matches(msg, keys.Navigate):
			if m.bus != nil {
				m.bus.Publish("/")
			}
			return m, nil
		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			return m, nil
		}

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil
	}
	return m, nil
}

// setView adopts a view. New data restarts the batched reveal; a view of
// the same data (density toggle, details) keeps what is already shown.
func (m *Model) setView(v card.View) {
	sameData := v.Updated.Equal(m.view.Updated) && v.HasData == m.view.HasData
	m.view = v
	m.batches = agenda.Batches(v.Days, batchSize)
	switch {
	case !sameData:
		m.revealed = min(1, len(m.batches))
	case m.revealed > len(m.batches):
		m.revealed = len(m.batches)
	}
}

// handleMouse maps the left button to one gesture pointer. Presses outside
// the card are ignored; drags and releases go to the machine, which drops
// them unless it owns the pointer.
func (m Model) handleMouse(msg tea.MouseMsg) {
	if m.machine == nil {
		return
	}
	x, y := toPointer(msg.X, msg.Y)
	p := gesture.Pointer{ID: mousePointer, Kind: gesture.Mouse, X: x, Y: y}

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft || !m.inCard(msg.X, msg.Y) {
			return
		}
		m.machine.Down(p)
	case tea.MouseActionMotion:
		if msg.Button == tea.MouseButtonLeft {
			m.machine.Move(p)
		}
	case tea.MouseActionRelease:
		m.machine.Up(p)
	}
}

func (m Model) boxWidth() int {
	if m.width <= 0 {
		return defaultWidth
	}
	return m.width
}

// inCard reports whether a cell lies on the card, borders included.
func (m Model) inCard(col, row int) bool {
	bottom := bodyTop + len(m.bodyLines())
	return row >= bodyTop-1 && row <= bottom && col >= 0 && col < m.boxWidth()
}

// shownDays merges the revealed batches back into days.
func (m Model) shownDays() []agenda.Day {
	var out []agenda.Day
	for _, batch := range m.batches[:m.revealed] {
		for _, d := range batch {
			if n := len(out); n > 0 && out[n-1].Date.Equal(d.Date) {
				out[n-1].Items = append(out[n-1].Items[:len(out[n-1].Items):len(out[n-1].Items)], d.Items...)
				continue
			}
			out = append(out, d)
		}
	}
	return out
}

// bodyLines renders the card content, one entry per screen row.
func (m Model) bodyLines() []string {
	v := m.view
	switch {
	case v.ShowError():
		return []string{errorStyle.Render(v.Error)}
	case v.ShowLoading(), !v.HasData:
		return []string{statusStyle.Render("Loading…")}
	}

	var lines []string
	for _, d := range m.shownDays() {
		lines = append(lines, dayStyle.Render(d.Label))
		for _, it := range d.Items {
			color := lipgloss.Color(it.Color)
			if it.Color == "" {
				color = colorSubtle
			}
			bar := lipgloss.NewStyle().Foreground(color).Render("▍")
			lines = append(lines, bar+" "+timeStyle.Render(it.Time)+summaryStyle.Render(it.Event.Summary))
			if v.Expanded && it.Location != "" {
				lines = append(lines, strings.Repeat(" ", 2+timeWidth)+locationStyle.Render(it.Location))
			}
		}
	}
	switch {
	case len(m.batches) == 0:
		lines = append(lines, statusStyle.Render("No upcoming events"))
	case m.revealed < len(m.batches):
		lines = append(lines, statusStyle.Render("…"))
	}
	if v.Details != "" {
		lines = append(lines, statusStyle.Render("details: "+v.Details))
	}
	return lines
}

func (m Model) View() string {
	v := m.view

	status := v.State.String()
	if v.Stale {
		status += ", stale"
	}
	if !v.Updated.IsZero() {
		status += ", updated " + v.Updated.Format("15:04")
	}
	header := titleStyle.Render("panelcal") + " " + stateStyle.Render("("+status+")")

	// Gutter glyphs show ripples and the hold indicator on their row.
	gutter := map[int]string{}
	held := false
	for _, mk := range m.overlay.snapshot() {
		switch {
		case mk.kind == holdMark:
			held = true
			gutter[mk.row] = "◉"
		case gutter[mk.row] == "" && mk.fading:
			gutter[mk.row] = "·"
		case gutter[mk.row] == "":
			gutter[mk.row] = "◌"
		}
	}

	inner := max(m.boxWidth()-4, 8)
	clip := lipgloss.NewStyle().MaxWidth(inner - 2)
	lines := m.bodyLines()
	for i, l := range lines {
		g := gutter[bodyTop+i]
		if g == "" {
			g = " "
		}
		lines[i] = g + " " + clip.Render(l)
	}

	box := boxStyle
	if held {
		box = box.BorderForeground(colorAccent)
	}
	body := box.Width(m.boxWidth() - 2).Render(strings.Join(lines, "\n"))

	footer := m.help.View(keys)
	if held {
		footer = holdStyle.Render("◉ hold: release to run") + "  " + footer
	}

	return fmt.Sprintf("%s\n%s\n%s", header, body, footer)
}
