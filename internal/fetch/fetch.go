// Package fetch aggregates events from several calendar sources. A failing
// source never aborts the others.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

// ErrTransient marks a per-source query failure. The next trigger retries.
var ErrTransient = errors.New("fetch: transient failure")

// Provider answers a calendar query for one source.
type Provider interface {
	Events(ctx context.Context, sourceID string, w model.Window) ([]model.RawEvent, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, sourceID string, w model.Window) ([]model.RawEvent, error)

func (f ProviderFunc) Events(ctx context.Context, sourceID string, w model.Window) ([]model.RawEvent, error) {
	return f(ctx, sourceID, w)
}

// Fetcher queries sources through a Provider.
type Fetcher struct {
	provider Provider
}

func New(p Provider) *Fetcher {
	return &Fetcher{provider: p}
}

// FetchAll queries every source for w, in order, and concatenates the
// results tagged with their source. Per-source failures are logged and
// returned alongside; a failed source contributes no events.
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.CalendarSource, w model.Window) ([]model.RawEvent, []error) {
	events := make([]model.RawEvent, 0)
	var errs []error

	for _, src := range sources {
		got, err := f.fetchOne(ctx, src, w)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("calendar fetch failed", err, "source", src.ID)
			continue
		}
		events = append(events, got...)
	}

	appLog.Debug("calendar fetch completed",
		"sources", len(sources),
		"failed", len(errs),
		"events", len(events),
		"range_start", w.Start.Format(time.RFC3339),
		"range_end", w.End.Format(time.RFC3339),
	)
	return events, errs
}

// FetchFallback queries only primary for today's calendar day. It reports
// false on failure.
func (f *Fetcher) FetchFallback(ctx context.Context, primary model.CalendarSource, now time.Time) ([]model.RawEvent, bool) {
	events, err := f.fetchOne(ctx, primary, model.TodayWindow(now))
	if err != nil {
		appLog.Error("calendar fallback fetch failed", err, "source", primary.ID)
		return nil, false
	}
	return events, true
}

func (f *Fetcher) fetchOne(ctx context.Context, src model.CalendarSource, w model.Window) (events []model.RawEvent, err error) {
	defer func() {
		// A provider panic is a source failure like any other.
		if r := recover(); r != nil {
			events, err = nil, fmt.Errorf("%w: source %s: panic: %v", ErrTransient, src.ID, r)
		}
	}()

	got, err := f.provider.Events(ctx, src.ID, w)
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %w", ErrTransient, src.ID, err)
	}
	for i := range got {
		got[i].Source = src
	}
	return got, nil
}

// Mux routes queries to providers by source ID.
type Mux struct {
	routes []route
	def    Provider
}

type route struct {
	owns     func(sourceID string) bool
	provider Provider
}

// NewMux returns a Mux sending unmatched sources to def. def may be nil, in
// which case unmatched sources fail.
func NewMux(def Provider) *Mux {
	return &Mux{def: def}
}

// Route sends sources for which owns returns true to p. Routes are checked
// in registration order.
func (m *Mux) Route(owns func(sourceID string) bool, p Provider) {
	m.routes = append(m.routes, route{owns: owns, provider: p})
}

func (m *Mux) Events(ctx context.Context, sourceID string, w model.Window) ([]model.RawEvent, error) {
	for _, r := range m.routes {
		if r.owns(sourceID) {
			return r.provider.Events(ctx, sourceID, w)
		}
	}
	if m.def == nil {
		return nil, fmt.Errorf("no provider for source %q", sourceID)
	}
	return m.def.Events(ctx, sourceID, w)
}
