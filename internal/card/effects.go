package card

import (
	"context"
	"errors"

	appLog "panelcal/internal/log"
)

// ServiceCaller invokes a remote "domain.service" action.
type ServiceCaller interface {
	CallService(ctx context.Context, service string, data map[string]any) error
}

// Navigator announces a navigation to everything on the page.
type Navigator interface {
	Publish(path string)
}

// Effects implements action.Effects for a card. Nil fields disable the
// corresponding effect, which then fails with ErrUnsupported.
type Effects struct {
	Card     *Card
	Services ServiceCaller
	Nav      Navigator
	// Open opens a link on the host. Nil only logs the URL.
	Open func(ctx context.Context, url string) error
}

// ErrUnsupported is returned by effects the host did not wire.
var ErrUnsupported = errors.New("card: effect not supported by host")

// ShowDetails opens details for the primary entity of the card.
func (e *Effects) ShowDetails(_ context.Context, target string) error {
	if e.Card == nil {
		return ErrUnsupported
	}
	entities := e.Card.Config().Entities
	if len(entities) == 0 {
		return ErrConfiguration
	}
	appLog.Debug("show details", "target", target, "entity", entities[0].ID)
	e.Card.ShowDetails(entities[0].ID)
	return nil
}

func (e *Effects) Navigate(_ context.Context, path string) error {
	if e.Nav == nil {
		return ErrUnsupported
	}
	e.Nav.Publish(path)
	return nil
}

func (e *Effects) InvokeRemoteAction(ctx context.Context, service string, data map[string]any) error {
	if e.Services == nil {
		return ErrUnsupported
	}
	return e.Services.CallService(ctx, service, data)
}

func (e *Effects) OpenLink(ctx context.Context, url string) error {
	if e.Open == nil {
		appLog.Info("open link", "url", url)
		return nil
	}
	return e.Open(ctx, url)
}

func (e *Effects) ToggleExpanded(context.Context) error {
	if e.Card == nil {
		return ErrUnsupported
	}
	e.Card.ToggleExpanded()
	return nil
}
