package card

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelcal/internal/action"
	"panelcal/internal/cache"
	"panelcal/internal/clock"
	"panelcal/internal/config"
	"panelcal/internal/fetch"
	"panelcal/internal/model"
	"panelcal/internal/storage"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var sources = []model.CalendarSource{
	{ID: "calendar.a", Color: "red"},
	{ID: "calendar.b", Color: "green"},
	{ID: "calendar.c", Color: "blue"},
}

type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) Render(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, v.State)
	}
	return out
}

func (r *recorder) last() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[len(r.views)-1]
}

// provider serves one event per source, fails the sources in fail and
// answers the today-only fallback query according to fallbackFails.
type provider struct {
	mu            sync.Mutex
	fail          map[string]bool
	fallbackFails bool
	calls         []string
}

func (p *provider) Events(_ context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fallback := w.Start.Equal(model.StartOfDay(now)) && w.End.Equal(model.StartOfDay(now).AddDate(0, 0, 1))
	if fallback {
		p.calls = append(p.calls, "fallback:"+id)
		if p.fallbackFails {
			return nil, errors.New("still down")
		}
		return []model.RawEvent{event("today from " + id)}, nil
	}
	p.calls = append(p.calls, id)
	if p.fail[id] {
		return nil, errors.New("unavailable")
	}
	return []model.RawEvent{event("from " + id)}, nil
}

func (p *provider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func event(summary string) model.RawEvent {
	return model.RawEvent{
		Summary: summary,
		Start:   model.At(now.Add(time.Hour)),
		End:     model.At(now.Add(2 * time.Hour)),
	}
}

func testConfig(entities ...model.CalendarSource) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Entities = entities
	return cfg
}

type fixture struct {
	clk   *clock.FakeClock
	kv    *storage.Memory
	store *cache.Store
	rec   *recorder
	card  *Card
}

func newFixture(t *testing.T, cfg *config.Config, p fetch.Provider) *fixture {
	t.Helper()
	f := &fixture{clk: clock.Fake(now), kv: storage.NewMemory(0), rec: &recorder{}}
	f.store = cache.New(f.kv, f.clk, "test", cfg.CacheTTL())
	f.card = New(Options{
		Config:   cfg,
		Cache:    f.store,
		Fetcher:  fetch.New(p),
		Renderer: f.rec,
		Clock:    f.clk,
	})
	return f
}

func summaries(v View) []string {
	var out []string
	for _, d := range v.Days {
		for _, it := range d.Items {
			out = append(out, it.Event.Summary)
		}
	}
	return out
}

func TestCacheHitSkipsFetch(t *testing.T) {
	p := &provider{}
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)
	require.True(t, f.store.Put(cache.FingerprintFor(cfg, now), []model.RawEvent{event("cached")}))

	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	assert.Zero(t, p.callCount())
	assert.Equal(t, []State{Ready}, f.rec.states())
	assert.Equal(t, []string{"cached"}, summaries(f.rec.last()))
}

func TestMissRendersLoadingThenReady(t *testing.T) {
	p := &provider{}
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)

	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	require.Equal(t, []State{Loading, Ready}, f.rec.states())
	assert.True(t, f.rec.views[0].ShowLoading())
	assert.Equal(t, []string{"from calendar.a"}, summaries(f.rec.last()))

	entry, ok := f.store.Get(cache.FingerprintFor(cfg, now))
	require.True(t, ok, "successful fetch is written through")
	assert.Len(t, entry.Events, 1)

	// Within the cache duration a tick is served from the cache.
	f.clk.Advance(10 * time.Minute)
	require.NoError(t, f.card.Trigger(context.Background(), TriggerTimerTick))
	assert.Equal(t, 1, p.callCount())

	// After it, the tick fetches again.
	f.clk.Advance(cfg.CacheTTL())
	require.NoError(t, f.card.Trigger(context.Background(), TriggerTimerTick))
	assert.Equal(t, 2, p.callCount())
}

func TestForceRefreshBypassesCache(t *testing.T) {
	p := &provider{}
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)
	f.store.Put(cache.FingerprintFor(cfg, now), []model.RawEvent{event("cached")})

	require.NoError(t, f.card.Refresh(context.Background()))
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, []string{"from calendar.a"}, summaries(f.rec.last()))
}

func TestOneFailingSourceStillReady(t *testing.T) {
	p := &provider{fail: map[string]bool{"calendar.b": true}}
	f := newFixture(t, testConfig(sources...), p)

	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	v := f.rec.last()
	assert.Equal(t, Ready, v.State)
	assert.False(t, v.Stale)
	assert.ElementsMatch(t, []string{"from calendar.a", "from calendar.c"}, summaries(v))
}

func TestAllFailingUsesFallback(t *testing.T) {
	p := &provider{fail: map[string]bool{"calendar.a": true, "calendar.b": true, "calendar.c": true}}
	cfg := testConfig(sources...)
	f := newFixture(t, cfg, p)

	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	v := f.rec.last()
	assert.Equal(t, Ready, v.State)
	assert.True(t, v.Stale)
	assert.Equal(t, []string{"today from calendar.a"}, summaries(v))
	assert.Contains(t, p.calls, "fallback:calendar.a")

	_, cached := f.store.Get(cache.FingerprintFor(cfg, now))
	assert.False(t, cached, "fallback data is never cached")
}

func TestAllFailingAndFallbackFailingIsError(t *testing.T) {
	p := &provider{
		fail:          map[string]bool{"calendar.a": true, "calendar.b": true, "calendar.c": true},
		fallbackFails: true,
	}
	f := newFixture(t, testConfig(sources...), p)

	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	v := f.rec.last()
	assert.Equal(t, Error, v.State)
	assert.True(t, v.ShowError())
	assert.NotEmpty(t, v.Error)
}

func TestFailureKeepsStaleData(t *testing.T) {
	p := &provider{}
	f := newFixture(t, testConfig(sources[0]), p)
	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	p.mu.Lock()
	p.fail = map[string]bool{"calendar.a": true}
	p.mu.Unlock()
	require.NoError(t, f.card.Refresh(context.Background()))

	v := f.rec.last()
	assert.Equal(t, Ready, v.State)
	assert.True(t, v.Stale)
	assert.Equal(t, []string{"from calendar.a"}, summaries(v))
	assert.NotContains(t, p.calls, "fallback:calendar.a", "fallback only runs without data")

	// The refresh render kept the list instead of a loading screen.
	for _, view := range f.rec.views[2:] {
		assert.False(t, view.ShowLoading())
	}
}

func TestNoEntitiesIsConfigurationError(t *testing.T) {
	p := &provider{}
	f := newFixture(t, testConfig(), p)

	err := f.card.Trigger(context.Background(), TriggerVisible)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, Error, f.card.State())
	assert.True(t, f.rec.last().ShowError())
	assert.Zero(t, p.callCount())

	err = f.card.Trigger(context.Background(), TriggerTimerTick)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, p.callCount(), "configuration errors are not retried")
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	p := fetch.ProviderFunc(func(_ context.Context, id string, w model.Window) ([]model.RawEvent, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return []model.RawEvent{event("first")}, nil
		}
		return []model.RawEvent{event("second")}, nil
	})
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)

	f.card.Async(context.Background(), TriggerForceRefresh)
	<-started
	require.NoError(t, f.card.Refresh(context.Background()))
	close(release)
	f.card.Wait()

	assert.Equal(t, []string{"second"}, summaries(f.card.View()))
	assert.Equal(t, []string{"second"}, summaries(f.rec.last()))
	entry, ok := f.store.Get(cache.FingerprintFor(cfg, now))
	require.True(t, ok)
	assert.Equal(t, "second", entry.Events[0].Summary, "stale result must not overwrite the cache")
}

func TestOlderSuccessAfterNewerFailureIsAdopted(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	p := fetch.ProviderFunc(func(_ context.Context, id string, w model.Window) ([]model.RawEvent, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return []model.RawEvent{event("first")}, nil
		}
		return nil, errors.New("unavailable")
	})
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)

	f.card.Async(context.Background(), TriggerVisible)
	<-started
	require.NoError(t, f.card.Refresh(context.Background()))
	assert.Equal(t, Error, f.card.State(), "newer fetch and its fallback failed")

	close(release)
	f.card.Wait()

	v := f.card.View()
	assert.Equal(t, Ready, v.State)
	assert.False(t, v.ShowError())
	assert.Equal(t, []string{"first"}, summaries(v))
	entry, ok := f.store.Get(cache.FingerprintFor(cfg, now))
	require.True(t, ok)
	assert.Equal(t, "first", entry.Events[0].Summary)
}

// blockingKV holds Get calls until released.
type blockingKV struct {
	*storage.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingKV) Get(key string) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Memory.Get(key)
}

func TestViewDoesNotWaitOnCacheRead(t *testing.T) {
	cfg := testConfig(sources[0])
	kv := &blockingKV{Memory: storage.NewMemory(0), entered: make(chan struct{}), release: make(chan struct{})}
	clk := clock.Fake(now)
	c := New(Options{
		Config:  cfg,
		Cache:   cache.New(kv, clk, "test", cfg.CacheTTL()),
		Fetcher: fetch.New(&provider{}),
		Clock:   clk,
	})

	c.Async(context.Background(), TriggerVisible)
	<-kv.entered

	done := make(chan View, 1)
	go func() { done <- c.View() }()
	select {
	case v := <-done:
		assert.Equal(t, Idle, v.State)
	case <-time.After(time.Second):
		t.Fatal("View blocked behind the cache read")
	}

	close(kv.release)
	c.Wait()
	assert.Equal(t, []string{"from calendar.a"}, summaries(c.View()))
}

func TestToggleExpandedKeepsData(t *testing.T) {
	p := &provider{}
	f := newFixture(t, testConfig(sources[0]), p)
	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	f.card.ToggleExpanded()
	v := f.rec.last()
	assert.True(t, v.Expanded)
	assert.Equal(t, []string{"from calendar.a"}, summaries(v))
	assert.Equal(t, 1, p.callCount())

	f.card.ToggleExpanded()
	assert.False(t, f.rec.last().Expanded)
}

type fakeStates struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (s *fakeStates) State(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return "", errors.New("unknown entity")
	}
	return tok, nil
}

func TestStateChangedOnlyOnNewTokens(t *testing.T) {
	p := &provider{}
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)
	states := &fakeStates{tokens: map[string]string{"calendar.a": "on|1"}}
	f.card.states = states
	ctx := context.Background()

	triggered, err := f.card.StateChanged(ctx)
	require.NoError(t, err)
	assert.True(t, triggered)

	triggered, err = f.card.StateChanged(ctx)
	require.NoError(t, err)
	assert.False(t, triggered)

	states.mu.Lock()
	states.tokens["calendar.a"] = "on|2"
	states.mu.Unlock()
	triggered, err = f.card.StateChanged(ctx)
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, 1, p.callCount(), "a state change alone is served from the cache")
}

func TestSetConfigInvalidatesCache(t *testing.T) {
	p := &provider{}
	cfg := testConfig(sources[0])
	f := newFixture(t, cfg, p)
	ctx := context.Background()
	require.NoError(t, f.card.Trigger(ctx, TriggerVisible))
	oldFP := cache.FingerprintFor(cfg, now)

	next := testConfig(sources[0])
	next.DaysToShow = 5
	require.NoError(t, f.card.SetConfig(ctx, next))

	_, err := f.kv.Get(f.store.Namespace() + ":" + oldFP)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 2, p.callCount())
	assert.Equal(t, Ready, f.card.State())

	// A change that does not affect results keeps the data and does not fetch.
	same := testConfig(sources[0])
	same.DaysToShow = 5
	same.TapAction = config.ActionConfig{"type": "toggle-expanded"}
	require.NoError(t, f.card.SetConfig(ctx, same))
	assert.Equal(t, 2, p.callCount())
}

type services struct {
	called []string
}

func (s *services) CallService(_ context.Context, svc string, _ map[string]any) error {
	s.called = append(s.called, svc)
	return nil
}

type nav struct{ paths []string }

func (n *nav) Publish(path string) { n.paths = append(n.paths, path) }

func TestEffectsThroughDispatcher(t *testing.T) {
	f := newFixture(t, testConfig(sources[0]), &provider{})
	svc := &services{}
	n := &nav{}
	var opened []string
	fx := &Effects{
		Card:     f.card,
		Services: svc,
		Nav:      n,
		Open: func(_ context.Context, url string) error {
			opened = append(opened, url)
			return nil
		},
	}
	d := action.NewDispatcher(fx)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, action.ToggleExpanded{}, "card"))
	assert.True(t, f.card.View().Expanded)

	require.NoError(t, d.Dispatch(ctx, action.ShowDetails{}, "card"))
	assert.Equal(t, "calendar.a", f.card.View().Details)
	require.NoError(t, d.Dispatch(ctx, action.ShowDetails{}, "card"))
	assert.Empty(t, f.card.View().Details)

	require.NoError(t, d.Dispatch(ctx, action.Navigate{Path: "/lovelace/0"}, "card"))
	require.NoError(t, d.Dispatch(ctx, action.InvokeRemoteAction{Service: "light.toggle"}, "card"))
	require.NoError(t, d.Dispatch(ctx, action.OpenLink{URL: "https://example.com"}, "card"))
	assert.Equal(t, []string{"/lovelace/0"}, n.paths)
	assert.Equal(t, []string{"light.toggle"}, svc.called)
	assert.Equal(t, []string{"https://example.com"}, opened)

	err := action.NewDispatcher(&Effects{}).Dispatch(ctx, action.Navigate{Path: "/x"}, "card")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, action.ErrDispatch)
}

func TestSweepPassesThrough(t *testing.T) {
	f := newFixture(t, testConfig(sources[0]), &provider{})
	require.NoError(t, f.card.Trigger(context.Background(), TriggerVisible))

	assert.Zero(t, f.card.Sweep())
	f.clk.Advance(cache.StaleAfter + time.Minute)
	assert.Equal(t, 1, f.card.Sweep())
}
