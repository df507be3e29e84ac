// Package action decodes configured tap / hold actions and routes them to
// the host's effects.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"panelcal/internal/config"
	appLog "panelcal/internal/log"
)

// ErrDispatch wraps any failure of an effect.
var ErrDispatch = errors.New("action: dispatch failed")

// Action is one of None, ShowDetails, Navigate, InvokeRemoteAction,
// OpenLink or ToggleExpanded. The set is closed: isAction is unexported.
type Action interface {
	Type() string
	isAction()
}

type None struct{}

type ShowDetails struct{}

type Navigate struct {
	Path string
}

type InvokeRemoteAction struct {
	// Service is "domain.service".
	Service string
	Data    map[string]any
}

type OpenLink struct {
	URL string
}

type ToggleExpanded struct{}

func (None) Type() string               { return "none" }
func (ShowDetails) Type() string        { return "show-details" }
func (Navigate) Type() string           { return "navigate" }
func (InvokeRemoteAction) Type() string { return "invoke-remote-action" }
func (OpenLink) Type() string           { return "open-link" }
func (ToggleExpanded) Type() string     { return "toggle-expanded" }

func (None) isAction()               {}
func (ShowDetails) isAction()        {}
func (Navigate) isAction()           {}
func (InvokeRemoteAction) isAction() {}
func (OpenLink) isAction()           {}
func (ToggleExpanded) isAction()     {}

// Parse decodes a descriptor. Missing, unknown or malformed descriptors
// decode to None with a logged warning. Home Assistant aliases (more-info,
// call-service, perform-action, url) are accepted.
func Parse(desc config.ActionConfig) Action {
	if len(desc) == 0 {
		return None{}
	}
	typ, _ := desc["type"].(string)
	if typ == "" {
		typ, _ = desc["action"].(string)
	}

	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "none":
		return None{}
	case "show-details", "more-info":
		return ShowDetails{}
	case "toggle-expanded", "expand":
		return ToggleExpanded{}
	case "navigate":
		path := firstString(desc, "navigation_path", "path")
		if path == "" {
			return malformed(typ, "navigation_path is empty")
		}
		return Navigate{Path: path}
	case "invoke-remote-action", "call-service", "perform-action":
		svc := firstString(desc, "service", "perform_action")
		if !strings.Contains(svc, ".") {
			return malformed(typ, "service must be domain.service")
		}
		data, ok := firstMap(desc, "data", "service_data")
		if !ok {
			return malformed(typ, "data must be a mapping")
		}
		return InvokeRemoteAction{Service: svc, Data: data}
	case "open-link", "url":
		u := firstString(desc, "url", "url_path")
		if u == "" {
			return malformed(typ, "url is empty")
		}
		return OpenLink{URL: u}
	default:
		return malformed(typ, "unknown action type")
	}
}

func malformed(typ, reason string) Action {
	appLog.Info("action descriptor ignored", "type", typ, "reason", reason)
	return None{}
}

func firstString(m config.ActionConfig, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// firstMap returns the first present mapping; absent keys yield an empty
// map, a present non-mapping value is malformed.
func firstMap(m config.ActionConfig, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		v, present := m[k]
		if !present || v == nil {
			continue
		}
		switch mv := v.(type) {
		case map[string]any:
			return mv, true
		case config.ActionConfig:
			return map[string]any(mv), true
		default:
			return nil, false
		}
	}
	return map[string]any{}, true
}

// Effects are the host capabilities an action can trigger. target names the
// element the gesture happened on.
type Effects interface {
	ShowDetails(ctx context.Context, target string) error
	Navigate(ctx context.Context, path string) error
	InvokeRemoteAction(ctx context.Context, service string, data map[string]any) error
	OpenLink(ctx context.Context, url string) error
	ToggleExpanded(ctx context.Context) error
}

// Dispatcher maps actions to effects.
type Dispatcher struct {
	effects Effects
}

func NewDispatcher(e Effects) *Dispatcher {
	return &Dispatcher{effects: e}
}

// Dispatch runs the effect for a. None is a no-op. Effect errors and panics
// come back wrapped in ErrDispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action, target string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrDispatch, a.Type(), r)
		}
	}()

	switch a := a.(type) {
	case nil, None:
		return nil
	case ShowDetails:
		err = d.effects.ShowDetails(ctx, target)
	case Navigate:
		err = d.effects.Navigate(ctx, a.Path)
	case InvokeRemoteAction:
		err = d.effects.InvokeRemoteAction(ctx, a.Service, a.Data)
	case OpenLink:
		err = d.effects.OpenLink(ctx, a.URL)
	case ToggleExpanded:
		err = d.effects.ToggleExpanded(ctx)
	default:
		return fmt.Errorf("%w: unhandled action %T", ErrDispatch, a)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDispatch, a.Type(), err)
	}
	return nil
}
