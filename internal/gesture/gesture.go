// Package gesture turns raw pointer input on one interactive element into
// tap and hold actions.
//
// A Machine moves through
//
//	idle -> armed -> held | moved -> idle
//
// Pointer down arms a hold timer. Moving more than MoveThreshold before the
// timer fires cancels it; a fired timer marks the gesture held and shows a
// hold indicator. Pointer up fires the hold action (held), the tap action
// (neither held nor moved) or nothing (moved). Every exit path stops the
// hold timer first and schedules or performs visual cleanup.
package gesture

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"panelcal/internal/action"
	"panelcal/internal/clock"
	appLog "panelcal/internal/log"
)

const (
	HoldDelay     = 500 * time.Millisecond
	MoveThreshold = 10.0

	// RippleFadeDelay is how long a ripple lingers after release before
	// it starts fading.
	RippleFadeDelay = 300 * time.Millisecond
	// FadeDuration is the fade-out animation time before removal.
	FadeDuration = 200 * time.Millisecond
	HapticPulse  = 50 * time.Millisecond
)

// PointerKind is the input device class.
type PointerKind int

const (
	Mouse PointerKind = iota
	Touch
	Pen
)

func (k PointerKind) String() string {
	switch k {
	case Touch:
		return "touch"
	case Pen:
		return "pen"
	default:
		return "mouse"
	}
}

// Pointer is one input sample.
type Pointer struct {
	ID   int
	Kind PointerKind
	X, Y float64
}

// Phase is the externally visible state of a Machine.
type Phase int

const (
	Idle Phase = iota
	Armed
	Held
	Moved
	// Suspended means the element is being torn down after navigation and
	// ignores input until rebuilt.
	Suspended
)

func (p Phase) String() string {
	return [...]string{"idle", "armed", "held", "moved", "suspended"}[p]
}

// Visual is a transient feedback element (ripple or hold indicator).
type Visual interface {
	// FadeOut starts the fade-out animation.
	FadeOut()
	// Remove detaches the element immediately.
	Remove()
}

// Visuals spawns feedback elements on the host surface.
type Visuals interface {
	SpawnRipple(x, y float64) Visual
	SpawnHoldIndicator(x, y float64) Visual
}

// Haptics vibrates touch devices. Optional.
type Haptics interface {
	Pulse(d time.Duration)
}

// Dispatcher executes a resolved action.
type Dispatcher interface {
	Dispatch(ctx context.Context, a action.Action, target string) error
}

// state is the per-gesture state. It is replaced wholesale on rebuild, so a
// timer callback holding an old *state can detect it is stale.
type state struct {
	instance string

	// gesture counts Down calls so a late hold callback from an earlier
	// gesture is ignored.
	gesture    uint64
	hasPointer bool
	pointer    Pointer
	originX    float64
	originY    float64

	holdTimer   *clock.Timer
	holdPending bool
	held        bool
	moved       bool

	indicator Visual
	ripple    Visual

	lastAction time.Time
}

// Machine tracks gestures for one element. All methods are safe for
// concurrent use; timer callbacks and input handlers serialize on mu.
type Machine struct {
	mu sync.Mutex

	target     string
	tap        action.Action
	hold       action.Action
	clock      clock.Clock
	visuals    Visuals
	haptics    Haptics
	dispatcher Dispatcher

	st        *state
	suspended bool
	fades     map[*fade]struct{}
}

// fade is a visual on its way out: waiting to fade, then to be removed.
type fade struct {
	visual Visual
	timer  *clock.Timer
}

// Options configures a Machine.
type Options struct {
	// Target names the element for ShowDetails.
	Target     string
	Tap        action.Action
	Hold       action.Action
	Clock      clock.Clock
	Visuals    Visuals
	Haptics    Haptics
	Dispatcher Dispatcher
}

// New returns an idle Machine.
func New(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Visuals == nil {
		opts.Visuals = noVisuals{}
	}
	if opts.Tap == nil {
		opts.Tap = action.None{}
	}
	if opts.Hold == nil {
		opts.Hold = action.None{}
	}
	return &Machine{
		target:     opts.Target,
		tap:        opts.Tap,
		hold:       opts.Hold,
		clock:      opts.Clock,
		visuals:    opts.Visuals,
		haptics:    opts.Haptics,
		dispatcher: opts.Dispatcher,
		st:         newState(),
		fades:      make(map[*fade]struct{}),
	}
}

func newState() *state {
	return &state{instance: uuid.NewString()}
}

// SetActions replaces the tap and hold actions, e.g. after a config reload.
func (m *Machine) SetActions(tap, hold action.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap, m.hold = tap, hold
}

// Phase reports the current state.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.suspended:
		return Suspended
	case !m.st.hasPointer:
		return Idle
	case m.st.moved:
		return Moved
	case m.st.held:
		return Held
	default:
		return Armed
	}
}

// Instance returns the identifier of the current gesture state.
func (m *Machine) Instance() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.instance
}

// LastAction returns when an action last fired, zero if never.
func (m *Machine) LastAction() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.lastAction
}

// Down starts a gesture. A second pointer while one is active is ignored.
func (m *Machine) Down(p Pointer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.suspended || m.st.hasPointer {
		return
	}

	st := m.st
	st.hasPointer = true
	st.pointer = p
	st.originX, st.originY = p.X, p.Y
	st.held, st.moved = false, false

	// Ripple is fire-and-forget; it never gates an action.
	st.ripple = m.visuals.SpawnRipple(p.X, p.Y)

	st.gesture++
	gen := st.gesture
	st.holdPending = true
	st.holdTimer = m.clock.AfterFunc(HoldDelay, func() { m.holdFired(st, gen) })
}

// Move updates the pointer position. Crossing MoveThreshold before the
// hold fires cancels the hold; after it fired, movement is ignored.
func (m *Machine) Move(p Pointer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.st
	if m.suspended || !st.hasPointer || st.pointer.ID != p.ID {
		return
	}
	st.pointer.X, st.pointer.Y = p.X, p.Y
	if st.held || st.moved {
		return
	}
	if math.Hypot(p.X-st.originX, p.Y-st.originY) > MoveThreshold {
		m.stopHoldLocked(st)
		st.moved = true
	}
}

// holdFired runs on the clock's goroutine when the hold delay elapses.
func (m *Machine) holdFired(st *state, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st != st || st.gesture != gen || !st.holdPending || !st.hasPointer || st.moved {
		return
	}
	st.holdPending = false
	st.holdTimer = nil
	st.held = true
	st.indicator = m.visuals.SpawnHoldIndicator(st.pointer.X, st.pointer.Y)
	if st.pointer.Kind == Touch && m.haptics != nil {
		m.haptics.Pulse(HapticPulse)
	}
}

// Up ends the gesture and fires the resolved action.
func (m *Machine) Up(p Pointer) {
	m.mu.Lock()
	st := m.st
	if m.suspended || !st.hasPointer || st.pointer.ID != p.ID {
		m.mu.Unlock()
		return
	}
	m.stopHoldLocked(st)

	var fire action.Action
	kind := ""
	switch {
	case st.held && !st.moved:
		fire, kind = m.hold, "hold"
	case !st.held && !st.moved:
		fire, kind = m.tap, "tap"
	}
	if _, none := fire.(action.None); none {
		fire = nil
	}

	if st.indicator != nil {
		m.fadeLocked(st.indicator, 0)
		st.indicator = nil
	}
	if st.ripple != nil {
		m.fadeLocked(st.ripple, RippleFadeDelay)
		st.ripple = nil
	}
	m.resetPointerLocked(st)
	if fire != nil {
		st.lastAction = m.clock.Now()
	}
	dispatcher, target := m.dispatcher, m.target
	m.mu.Unlock()

	// Dispatch outside the lock: effects may navigate, which tears this
	// machine down through the registry.
	if fire == nil || dispatcher == nil {
		return
	}
	if err := dispatcher.Dispatch(context.Background(), fire, target); err != nil {
		appLog.Error("gesture action failed", err, "gesture", kind, "action", fire.Type(), "target", target)
	}
}

// Cancel aborts the gesture (pointercancel): no action, visuals removed
// immediately.
func (m *Machine) Cancel(p Pointer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.st
	if m.suspended || !st.hasPointer || st.pointer.ID != p.ID {
		return
	}
	m.stopHoldLocked(st)
	m.discardLocked(st)
	m.resetPointerLocked(st)
}

// Reset tears down every timer and visual unconditionally and suspends
// input until Rebuild.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.st
	m.stopHoldLocked(st)
	m.discardLocked(st)
	m.resetPointerLocked(st)
	for f := range m.fades {
		f.timer.Stop()
		f.visual.Remove()
		delete(m.fades, f)
	}
	m.suspended = true
}

// Rebuild installs a fresh gesture state and resumes input.
func (m *Machine) Rebuild() {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := m.st.lastAction
	m.st = newState()
	m.st.lastAction = last
	m.suspended = false
}

// Live returns the number of visuals currently on screen, fading ones
// included.
func (m *Machine) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.fades)
	if m.st.ripple != nil {
		n++
	}
	if m.st.indicator != nil {
		n++
	}
	return n
}

func (m *Machine) stopHoldLocked(st *state) {
	if st.holdTimer != nil {
		st.holdTimer.Stop()
		st.holdTimer = nil
	}
	st.holdPending = false
}

func (m *Machine) discardLocked(st *state) {
	if st.indicator != nil {
		st.indicator.Remove()
		st.indicator = nil
	}
	if st.ripple != nil {
		st.ripple.Remove()
		st.ripple = nil
	}
}

func (m *Machine) resetPointerLocked(st *state) {
	st.hasPointer = false
	st.pointer = Pointer{}
	st.held, st.moved = false, false
}

// fadeLocked fades v after delay and removes it FadeDuration later.
func (m *Machine) fadeLocked(v Visual, delay time.Duration) {
	f := &fade{visual: v}
	m.fades[f] = struct{}{}

	remove := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.fades[f]; !ok {
			return
		}
		delete(m.fades, f)
		v.Remove()
	}
	start := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.fades[f]; !ok {
			return
		}
		v.FadeOut()
		f.timer = m.clock.AfterFunc(FadeDuration, remove)
	}

	if delay <= 0 {
		v.FadeOut()
		f.timer = m.clock.AfterFunc(FadeDuration, remove)
		return
	}
	f.timer = m.clock.AfterFunc(delay, start)
}

type noVisuals struct{}

func (noVisuals) SpawnRipple(float64, float64) Visual        { return noVisual{} }
func (noVisuals) SpawnHoldIndicator(float64, float64) Visual { return noVisual{} }

type noVisual struct{}

func (noVisual) FadeOut() {}
func (noVisual) Remove()  {}
