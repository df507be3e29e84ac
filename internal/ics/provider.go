package ics

import (
	"context"
	"fmt"

	"panelcal/internal/model"
)

// Provider answers calendar queries from ICS subscriptions. The source ID
// of a query is the subscription ID.
type Provider struct {
	fetcher *Fetcher
	sources map[string]Source
}

// NewProvider returns a Provider over the given subscriptions.
func NewProvider(fetcher *Fetcher, sources []Source) *Provider {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.ID] = s
	}
	return &Provider{fetcher: fetcher, sources: m}
}

// Has reports whether id names a configured subscription.
func (p *Provider) Has(id string) bool {
	_, ok := p.sources[id]
	return ok
}

// Events fetches, parses and expands subscription id over w.
func (p *Provider) Events(ctx context.Context, id string, w model.Window) ([]model.RawEvent, error) {
	src, ok := p.sources[id]
	if !ok {
		return nil, fmt.Errorf("ics: unknown subscription %q", id)
	}
	body, err := p.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("ics %s: %w", id, err)
	}
	parsed, err := Parse(id, body)
	if err != nil {
		return nil, fmt.Errorf("ics %s: %w", id, err)
	}
	return Expand(parsed, w)
}
