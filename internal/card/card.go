// Package card is the update orchestrator of one calendar card. It decides
// on every trigger whether to serve events from the cache or fetch them,
// tracks the idle/loading/ready/error state and hands views to a Renderer.
package card

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"panelcal/internal/agenda"
	"panelcal/internal/cache"
	"panelcal/internal/clock"
	"panelcal/internal/config"
	"panelcal/internal/fetch"
	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

// ErrConfiguration is a setup problem (no sources). The card stays in the
// error state and does not retry until the configuration changes.
var ErrConfiguration = errors.New("card: configuration error")

// State is the orchestrator state.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Error
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Trigger is the reason for an update.
type Trigger int

const (
	TriggerStateChanged Trigger = iota
	TriggerForceRefresh
	TriggerTimerTick
	TriggerVisible
	TriggerConfigChanged
)

func (t Trigger) String() string {
	return [...]string{"state-changed", "force-refresh", "timer-tick", "visible", "config-changed"}[t]
}

// View is everything a renderer needs for one frame.
type View struct {
	State State        `json:"state"`
	Days  []agenda.Day `json:"days"`
	// HasData is true once any events (possibly none) have been adopted.
	HasData  bool   `json:"has_data"`
	Expanded bool   `json:"expanded"`
	Details  string `json:"details,omitempty"`
	Error    string `json:"error,omitempty"`
	// Stale marks data kept after the latest fetch failed.
	Stale   bool      `json:"stale,omitempty"`
	Updated time.Time `json:"updated,omitzero"`
}

// ShowLoading reports whether a loading affordance should be drawn. It is
// only shown while there is nothing else to show.
func (v View) ShowLoading() bool { return v.State == Loading && !v.HasData }

// ShowError reports whether the error message replaces the event list.
func (v View) ShowError() bool { return v.State == Error && !v.HasData }

// Renderer draws a View. Render is called outside the card's lock but never
// concurrently with itself.
type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Render(v View) { f(v) }

// StateReader returns an opaque change token for an entity.
type StateReader interface {
	State(ctx context.Context, entityID string) (string, error)
}

// Options configures a Card.
type Options struct {
	Config   *config.Config
	Cache    *cache.Store
	Fetcher  *fetch.Fetcher
	Renderer Renderer
	Clock    clock.Clock
	// States is optional; without it StateChanged always triggers.
	States StateReader
}

// Card orchestrates fetching, caching and rendering for one card.
type Card struct {
	mu sync.Mutex

	cfg      *config.Config
	cache    *cache.Store
	fetcher  *fetch.Fetcher
	renderer Renderer
	clock    clock.Clock
	states   StateReader
	memo     *cache.Memo[grouped]

	state    State
	events   []model.RawEvent
	hasData  bool
	dataFP   string
	dataGen  uint64
	stale    bool
	expanded bool
	details  string
	errMsg   string
	updated  time.Time

	// issued is the last request token handed out; committed is the token
	// of the last full result adopted. Results older than committed are
	// dropped.
	issued    uint64
	committed uint64

	tokens map[string]string

	storeMu sync.Mutex

	renderMu   sync.Mutex
	viewSeq    uint64
	renderedSq uint64

	wg sync.WaitGroup
}

// grouped is a memoized agenda for one fingerprint.
type grouped struct {
	gen    uint64
	minute time.Time
	days   []agenda.Day
}

// New returns an idle card.
func New(opts Options) *Card {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Renderer == nil {
		opts.Renderer = RendererFunc(func(View) {})
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	return &Card{
		cfg:      opts.Config,
		cache:    opts.Cache,
		fetcher:  opts.Fetcher,
		renderer: opts.Renderer,
		clock:    opts.Clock,
		states:   opts.States,
		memo:     cache.NewMemo[grouped](opts.Config.Cache.MemoSize),
	}
}

// Config returns the active configuration. Callers must not modify it.
func (c *Card) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// State returns the current orchestrator state.
func (c *Card) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current view.
func (c *Card) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.viewLocked()
	return v
}

// Trigger runs one update. Without TriggerForceRefresh a valid cache entry
// is served without fetching. Otherwise the card renders its loading state,
// fetches, writes the cache and renders the result. It blocks until the
// result is rendered or discarded as stale.
//
// The only error returned is ErrConfiguration; fetch failures end in the
// ready or error state instead.
func (c *Card) Trigger(ctx context.Context, t Trigger) error {
	c.mu.Lock()
	cfg := c.cfg
	if len(cfg.Entities) == 0 {
		c.state = Error
		c.errMsg = "no calendar entities configured"
		c.mu.Unlock()
		c.render()
		return fmt.Errorf("%w: no entities", ErrConfiguration)
	}
	c.issued++
	token := c.issued
	c.mu.Unlock()

	loc := cfg.Location()
	now := c.clock.Now().In(loc)
	fp := cache.FingerprintFor(cfg, now)

	// The store may be remote; it is read without holding the card lock.
	if t != TriggerForceRefresh && c.cache != nil {
		if entry, ok := c.cache.Get(fp); ok {
			c.mu.Lock()
			if !c.currentLocked(token, cfg) {
				c.mu.Unlock()
				appLog.Debug("card discarded stale cache hit", "token", token)
				return nil
			}
			c.commitLocked(token, fp, entry.Events, entry.Timestamp)
			c.mu.Unlock()
			appLog.Debug("card served from cache", "trigger", t.String(), "fingerprint", fp, "events", len(entry.Events))
			c.render()
			return nil
		}
	}

	c.mu.Lock()
	if c.currentLocked(token, cfg) {
		c.state = Loading
	}
	c.mu.Unlock()
	c.render()

	appLog.Debug("card fetching", "trigger", t.String(), "token", token, "fingerprint", fp)
	w := model.WindowFor(now, cfg.DaysToShow, cfg.ShowPastEvents)
	events, errs := c.fetcher.FetchAll(ctx, cfg.Entities, w)
	failed := len(errs) == len(cfg.Entities)

	var fallback []model.RawEvent
	fallbackOK := false
	if failed && !c.holdsData() {
		fallback, fallbackOK = c.fetcher.FetchFallback(ctx, cfg.Entities[0], now)
	}

	c.mu.Lock()
	if !c.currentLocked(token, cfg) {
		c.mu.Unlock()
		appLog.Debug("card discarded stale fetch", "token", token, "committed", c.committed)
		return nil
	}

	// Only a full result advances committed, so an older fetch that
	// succeeds after a newer one failed is still adopted.
	switch {
	case !failed:
		c.commitLocked(token, fp, events, c.clock.Now())
	case c.hasData:
		// Keep showing what we have; the next trigger retries.
		c.state = Ready
		c.stale = true
	case fallbackOK:
		// Today-only data does not match the fingerprint's window; it is
		// shown but never cached.
		committed := c.committed
		c.commitLocked(token, fp, fallback, c.clock.Now())
		c.committed = committed
		c.stale = true
	default:
		c.state = Error
		c.errMsg = "unable to load calendar events"
		appLog.Error("card has no events to show", errors.Join(errs...), "sources", len(cfg.Entities))
	}
	c.mu.Unlock()

	if !failed {
		c.store(token, fp, events)
	}
	c.render()
	return nil
}

// store writes a committed result to the cache unless a newer result was
// committed meanwhile. Writes are serialized so the newest one lands last.
func (c *Card) store(token uint64, fp string, events []model.RawEvent) {
	if c.cache == nil {
		return
	}
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.mu.Lock()
	latest := c.committed == token
	c.mu.Unlock()
	if latest {
		c.cache.Put(fp, events)
	}
}

// currentLocked reports whether a result for token fetched under cfg may
// still be adopted.
func (c *Card) currentLocked(token uint64, cfg *config.Config) bool {
	return token > c.committed && c.cfg == cfg
}

// Async runs Trigger on its own goroutine. Wait blocks until every Async
// call returned.
func (c *Card) Async(ctx context.Context, t Trigger) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Trigger(ctx, t); err != nil {
			appLog.Error("card update failed", err, "trigger", t.String())
		}
	}()
}

func (c *Card) Wait() { c.wg.Wait() }

// Refresh forces a fetch.
func (c *Card) Refresh(ctx context.Context) error {
	return c.Trigger(ctx, TriggerForceRefresh)
}

// StateChanged polls the entity change tokens and triggers an update only
// when one differs from the last poll. It reports whether it triggered.
func (c *Card) StateChanged(ctx context.Context) (bool, error) {
	c.mu.Lock()
	entities := c.cfg.Entities
	states := c.states
	c.mu.Unlock()

	changed := states == nil
	if states != nil {
		next := make(map[string]string, len(entities))
		for _, src := range entities {
			tok, err := states.State(ctx, src.ID)
			if err != nil {
				appLog.Debug("entity state unavailable", "entity", src.ID, "err", err)
				continue
			}
			next[src.ID] = tok
		}
		c.mu.Lock()
		for id, tok := range next {
			if prev, ok := c.tokens[id]; !ok || prev != tok {
				changed = true
			}
		}
		c.tokens = next
		c.mu.Unlock()
	}

	if !changed {
		return false, nil
	}
	return true, c.Trigger(ctx, TriggerStateChanged)
}

// SetConfig swaps the configuration. A cache-relevant change invalidates
// the old entries and drops the held events before updating.
func (c *Card) SetConfig(ctx context.Context, cfg *config.Config) error {
	c.mu.Lock()
	old := c.cfg
	c.cfg = cfg
	if c.cache != nil {
		c.cache.SetTTL(cfg.CacheTTL())
	}
	relevant := config.CacheRelevantChanged(old, cfg)
	if relevant {
		if c.cache != nil {
			c.cache.Invalidate(old)
		}
		c.memo.Purge()
		c.events, c.hasData, c.dataFP, c.stale = nil, false, "", false
		c.tokens = nil
		c.state = Idle
	}
	c.mu.Unlock()

	if !relevant {
		c.render()
		return nil
	}
	appLog.Info("card configuration changed", "entities", len(cfg.Entities), "days", cfg.DaysToShow, "past", cfg.ShowPastEvents)
	return c.Trigger(ctx, TriggerConfigChanged)
}

// ToggleExpanded flips display density. Data is untouched.
func (c *Card) ToggleExpanded() {
	c.mu.Lock()
	c.expanded = !c.expanded
	c.mu.Unlock()
	c.render()
}

// ShowDetails opens the details pane for entity, or closes it when it is
// already open for that entity.
func (c *Card) ShowDetails(entity string) {
	c.mu.Lock()
	if c.details == entity {
		c.details = ""
	} else {
		c.details = entity
	}
	c.mu.Unlock()
	c.render()
}

// Sweep removes stale cache entries.
func (c *Card) Sweep() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Sweep()
}

func (c *Card) holdsData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasData
}

func (c *Card) commitLocked(token uint64, fp string, events []model.RawEvent, at time.Time) {
	c.committed = token
	c.events = events
	c.hasData = true
	c.dataFP = fp
	c.dataGen++
	c.stale = false
	c.errMsg = ""
	c.updated = at
	c.state = Ready
}

// viewLocked builds the view and numbers it.
func (c *Card) viewLocked() (View, uint64) {
	c.viewSeq++
	v := View{
		State:    c.state,
		HasData:  c.hasData,
		Expanded: c.expanded,
		Details:  c.details,
		Error:    c.errMsg,
		Stale:    c.stale,
		Updated:  c.updated,
		Days:     c.daysLocked(),
	}
	return v, c.viewSeq
}

// daysLocked groups the held events, reusing the memo while data and the
// minute are unchanged.
func (c *Card) daysLocked() []agenda.Day {
	if !c.hasData {
		return []agenda.Day{}
	}
	loc := c.cfg.Location()
	now := c.clock.Now().In(loc)
	minute := now.Truncate(time.Minute)
	if g, ok := c.memo.Get(c.dataFP); ok && g.gen == c.dataGen && g.minute.Equal(minute) {
		return g.days
	}
	days := agenda.Group(c.events, agenda.Options{
		Location:   loc,
		Now:        now,
		DaysToShow: c.cfg.DaysToShow,
		ShowPast:   c.cfg.ShowPastEvents,
	})
	c.memo.Put(c.dataFP, grouped{gen: c.dataGen, minute: minute, days: days})
	return days
}

// render hands the latest view to the renderer. Views built earlier than
// one already rendered are skipped.
func (c *Card) render() {
	c.mu.Lock()
	v, seq := c.viewLocked()
	c.mu.Unlock()

	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if seq <= c.renderedSq {
		return
	}
	c.renderedSq = seq
	c.renderer.Render(v)
}
