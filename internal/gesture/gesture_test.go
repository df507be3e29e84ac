package gesture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelcal/internal/action"
	"panelcal/internal/clock"
)

var epoch = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fakeVisual struct {
	kind    string
	faded   bool
	removed bool
}

func (v *fakeVisual) FadeOut() { v.faded = true }
func (v *fakeVisual) Remove()  { v.removed = true }

type fakeVisuals struct {
	mu      sync.Mutex
	spawned []*fakeVisual
}

func (f *fakeVisuals) spawn(kind string) Visual {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := &fakeVisual{kind: kind}
	f.spawned = append(f.spawned, v)
	return v
}

func (f *fakeVisuals) SpawnRipple(x, y float64) Visual        { return f.spawn("ripple") }
func (f *fakeVisuals) SpawnHoldIndicator(x, y float64) Visual { return f.spawn("hold") }

// onScreen counts spawned visuals of kind that were not removed.
func (f *fakeVisuals) onScreen(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.spawned {
		if v.kind == kind && !v.removed {
			n++
		}
	}
	return n
}

func (f *fakeVisuals) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.spawned {
		if v.kind == kind {
			n++
		}
	}
	return n
}

type fakeDispatcher struct {
	mu    sync.Mutex
	fired []string
	err   error
	onRun func()
}

func (d *fakeDispatcher) Dispatch(_ context.Context, a action.Action, target string) error {
	d.mu.Lock()
	d.fired = append(d.fired, a.Type())
	onRun := d.onRun
	d.mu.Unlock()
	if onRun != nil {
		onRun()
	}
	return d.err
}

func (d *fakeDispatcher) actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.fired...)
}

type fakeHaptics struct{ pulses int }

func (h *fakeHaptics) Pulse(time.Duration) { h.pulses++ }

type harness struct {
	clk     *clock.FakeClock
	visuals *fakeVisuals
	disp    *fakeDispatcher
	haptics *fakeHaptics
	m       *Machine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.Fake(epoch),
		visuals: &fakeVisuals{},
		disp:    &fakeDispatcher{},
		haptics: &fakeHaptics{},
	}
	h.m = New(Options{
		Target:     "card",
		Tap:        action.ShowDetails{},
		Hold:       action.ToggleExpanded{},
		Clock:      h.clk,
		Visuals:    h.visuals,
		Haptics:    h.haptics,
		Dispatcher: h.disp,
	})
	return h
}

// settle lets every fade finish. Fade removal is scheduled from inside the
// fade-start callback, so it needs its own Advance.
func (h *harness) settle() {
	h.clk.Advance(RippleFadeDelay)
	h.clk.Advance(FadeDuration)
}

var mouse = Pointer{ID: 1, Kind: Mouse, X: 100, Y: 100}

func TestHoldFiresHoldActionOnce(t *testing.T) {
	h := newHarness(t)

	h.m.Down(mouse)
	assert.Equal(t, Armed, h.m.Phase())
	assert.Equal(t, 1, h.visuals.onScreen("ripple"))

	h.clk.Advance(HoldDelay)
	assert.Equal(t, Held, h.m.Phase())
	assert.Equal(t, 1, h.visuals.onScreen("hold"))
	assert.Empty(t, h.disp.actions(), "hold action must wait for release")
	assert.Equal(t, 0, h.haptics.pulses, "mouse pointers get no haptic pulse")

	h.m.Up(mouse)
	assert.Equal(t, []string{"toggle-expanded"}, h.disp.actions())
	assert.Equal(t, Idle, h.m.Phase())
	assert.Equal(t, epoch.Add(HoldDelay), h.m.LastAction())

	h.settle()
	assert.Equal(t, 0, h.visuals.onScreen("hold"))
	assert.Equal(t, 0, h.visuals.onScreen("ripple"))
	assert.Equal(t, 0, h.clk.Pending())
	assert.Equal(t, 0, h.m.Live())
}

func TestQuickTapFiresTapActionOnce(t *testing.T) {
	h := newHarness(t)

	h.m.Down(mouse)
	h.clk.Advance(100 * time.Millisecond)
	h.m.Up(mouse)

	assert.Equal(t, []string{"show-details"}, h.disp.actions())
	assert.Equal(t, 0, h.visuals.count("hold"))

	// The cancelled hold timer must not fire later.
	h.clk.Advance(time.Second)
	assert.Equal(t, []string{"show-details"}, h.disp.actions())
	assert.Equal(t, 0, h.visuals.count("hold"))
}

func TestMovementBeforeHoldFiresNothing(t *testing.T) {
	h := newHarness(t)

	h.m.Down(mouse)
	h.clk.Advance(100 * time.Millisecond)
	h.m.Move(Pointer{ID: 1, X: 106, Y: 106}) // ~8.5 units, under threshold
	assert.Equal(t, Armed, h.m.Phase())

	h.m.Move(Pointer{ID: 1, X: 111, Y: 100})
	assert.Equal(t, Moved, h.m.Phase())

	h.clk.Advance(time.Second)
	assert.Equal(t, 0, h.visuals.count("hold"), "move must cancel the hold timer")

	h.m.Up(Pointer{ID: 1, X: 111, Y: 100})
	assert.Empty(t, h.disp.actions())

	h.settle()
	assert.Equal(t, 0, h.visuals.onScreen("ripple"))
}

func TestMovementAfterHoldKeepsHoldAction(t *testing.T) {
	h := newHarness(t)

	h.m.Down(mouse)
	h.clk.Advance(HoldDelay)
	h.m.Move(Pointer{ID: 1, X: 300, Y: 300})
	assert.Equal(t, Held, h.m.Phase())

	h.m.Up(Pointer{ID: 1, X: 300, Y: 300})
	assert.Equal(t, []string{"toggle-expanded"}, h.disp.actions())
}

func TestTwoRapidTapsCleanUpBetween(t *testing.T) {
	h := newHarness(t)

	h.m.Down(mouse)
	h.m.Up(mouse)
	h.clk.Advance(50 * time.Millisecond)
	h.m.Down(mouse)
	h.clk.Advance(50 * time.Millisecond)
	h.m.Up(mouse)

	assert.Equal(t, []string{"show-details", "show-details"}, h.disp.actions())
	assert.Equal(t, 2, h.visuals.count("ripple"))
	assert.Equal(t, 0, h.visuals.count("hold"))

	h.settle()
	assert.Equal(t, 0, h.visuals.onScreen("ripple"))
	assert.Equal(t, 0, h.clk.Pending(), "no timers may leak")
	assert.Equal(t, 0, h.m.Live())
}

func TestSecondPointerIgnored(t *testing.T) {
	h := newHarness(t)
	second := Pointer{ID: 2, Kind: Touch, X: 10, Y: 10}

	h.m.Down(mouse)
	h.m.Down(second)
	h.m.Move(Pointer{ID: 2, X: 500, Y: 500})
	h.m.Up(second)
	assert.Equal(t, Armed, h.m.Phase())
	assert.Equal(t, 1, h.visuals.count("ripple"))
	assert.Empty(t, h.disp.actions())

	h.m.Up(mouse)
	assert.Equal(t, []string{"show-details"}, h.disp.actions())
}

func TestCancelDiscardsWithoutAction(t *testing.T) {
	h := newHarness(t)

	h.m.Down(mouse)
	h.clk.Advance(HoldDelay)
	require.Equal(t, 1, h.visuals.onScreen("hold"))

	h.m.Cancel(mouse)
	assert.Equal(t, Idle, h.m.Phase())
	assert.Equal(t, 0, h.visuals.onScreen("hold"))
	assert.Equal(t, 0, h.visuals.onScreen("ripple"))
	assert.Equal(t, 0, h.clk.Pending())

	h.m.Up(mouse)
	assert.Empty(t, h.disp.actions())
}

func TestTouchHoldPulses(t *testing.T) {
	h := newHarness(t)
	finger := Pointer{ID: 7, Kind: Touch, X: 5, Y: 5}

	h.m.Down(finger)
	h.clk.Advance(HoldDelay)
	assert.Equal(t, 1, h.haptics.pulses)
	h.m.Up(finger)
}

func TestDispatchErrorStillCleansUp(t *testing.T) {
	h := newHarness(t)
	h.disp.err = errors.New("service unavailable")

	h.m.Down(mouse)
	h.clk.Advance(HoldDelay)
	h.m.Up(mouse)

	assert.Equal(t, Idle, h.m.Phase())
	h.settle()
	assert.Equal(t, 0, h.m.Live())

	h.m.Down(mouse)
	h.m.Up(mouse)
	assert.Len(t, h.disp.actions(), 2)
}

func TestNoneActionIsNotDispatched(t *testing.T) {
	h := newHarness(t)
	h.m.SetActions(action.None{}, action.None{})

	h.m.Down(mouse)
	h.m.Up(mouse)
	assert.Empty(t, h.disp.actions())
	assert.True(t, h.m.LastAction().IsZero())
}

func TestResetMidHoldAndRebuild(t *testing.T) {
	h := newHarness(t)
	first := h.m.Instance()

	h.m.Down(mouse)
	h.clk.Advance(HoldDelay)
	h.m.Reset()

	assert.Equal(t, Suspended, h.m.Phase())
	assert.Equal(t, 0, h.visuals.onScreen("hold"))
	assert.Equal(t, 0, h.visuals.onScreen("ripple"))

	h.m.Up(mouse)
	h.m.Down(mouse)
	assert.Empty(t, h.disp.actions())
	assert.Equal(t, 1, h.visuals.count("ripple"), "input is ignored while suspended")

	h.m.Rebuild()
	assert.Equal(t, Idle, h.m.Phase())
	assert.NotEqual(t, first, h.m.Instance())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "held", Held.String())
	assert.Equal(t, "touch", Touch.String())
}
