package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"panelcal/internal/card"
)

// Renderer is the card.Renderer for the terminal. Render never blocks: it
// keeps the latest view and wakes the program, which may coalesce several
// views into one frame.
type Renderer struct {
	mu     sync.Mutex
	latest card.View
	wake   chan struct{}
}

func NewRenderer() *Renderer {
	return &Renderer{wake: make(chan struct{}, 1)}
}

func (r *Renderer) Render(v card.View) {
	r.mu.Lock()
	r.latest = v
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

type viewMsg card.View

// next waits for the next Render call.
func (r *Renderer) next() tea.Cmd {
	return func() tea.Msg {
		<-r.wake
		r.mu.Lock()
		defer r.mu.Unlock()
		return viewMsg(r.latest)
	}
}
