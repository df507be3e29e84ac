package web

import (
	"sort"
	"sync"

	"panelcal/internal/gesture"
)

// Mark is one feedback element the front end draws over the card.
type Mark struct {
	ID     int     `json:"id"`
	Kind   string  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Fading bool    `json:"fading"`
}

// Overlay is the server-side list of ripples and hold indicators. It
// implements gesture.Visuals; the front end polls Marks.
type Overlay struct {
	mu    sync.Mutex
	next  int
	marks map[int]*Mark
}

func NewOverlay() *Overlay {
	return &Overlay{marks: make(map[int]*Mark)}
}

func (o *Overlay) SpawnRipple(x, y float64) gesture.Visual {
	return o.spawn("ripple", x, y)
}

func (o *Overlay) SpawnHoldIndicator(x, y float64) gesture.Visual {
	return o.spawn("hold", x, y)
}

func (o *Overlay) spawn(kind string, x, y float64) gesture.Visual {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	m := &Mark{ID: o.next, Kind: kind, X: x, Y: y}
	o.marks[m.ID] = m
	return &overlayVisual{o: o, id: m.ID}
}

// Marks returns the live marks ordered by creation.
func (o *Overlay) Marks() []Mark {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Mark, 0, len(o.marks))
	for _, m := range o.marks {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type overlayVisual struct {
	o  *Overlay
	id int
}

func (v *overlayVisual) FadeOut() {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	if m, ok := v.o.marks[v.id]; ok {
		m.Fading = true
	}
}

func (v *overlayVisual) Remove() {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	delete(v.o.marks, v.id)
}
