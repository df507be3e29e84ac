package tui

import (
	"sync"

	"panelcal/internal/gesture"
)

// Terminal cells are mapped to pointer units so the gesture thresholds keep
// their meaning: a cell is roughly 8x16 pixels.
const (
	cellWidth  = 8.0
	cellHeight = 16.0
)

type markKind int

const (
	rippleMark markKind = iota
	holdMark
)

type mark struct {
	kind   markKind
	row    int
	col    int
	fading bool
}

// Overlay holds the live feedback marks and implements gesture.Visuals.
// Gesture timers spawn and remove marks from their own goroutines; the
// model reads a snapshot per frame.
type Overlay struct {
	mu    sync.Mutex
	marks map[*mark]struct{}
}

func NewOverlay() *Overlay {
	return &Overlay{marks: make(map[*mark]struct{})}
}

func (o *Overlay) SpawnRipple(x, y float64) gesture.Visual {
	return o.spawn(rippleMark, x, y)
}

func (o *Overlay) SpawnHoldIndicator(x, y float64) gesture.Visual {
	return o.spawn(holdMark, x, y)
}

func (o *Overlay) spawn(kind markKind, x, y float64) gesture.Visual {
	m := &mark{kind: kind, row: int(y / cellHeight), col: int(x / cellWidth)}
	o.mu.Lock()
	o.marks[m] = struct{}{}
	o.mu.Unlock()
	return &overlayVisual{o: o, m: m}
}

func (o *Overlay) snapshot() []mark {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]mark, 0, len(o.marks))
	for m := range o.marks {
		out = append(out, *m)
	}
	return out
}

type overlayVisual struct {
	o *Overlay
	m *mark
}

func (v *overlayVisual) FadeOut() {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	v.m.fading = true
}

func (v *overlayVisual) Remove() {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	delete(v.o.marks, v.m)
}

// toPointer converts a terminal cell to gesture coordinates at the cell
// center.
func toPointer(col, row int) (float64, float64) {
	return (float64(col) + 0.5) * cellWidth, (float64(row) + 0.5) * cellHeight
}
