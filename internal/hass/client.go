// Package hass talks to the Home Assistant REST API: calendar queries,
// entity state reads and service calls.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

// Client is a minimal Home Assistant REST client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://homeassistant.local:8123")
// authenticating with a long-lived access token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "hass: " + e.Status
}

// Events returns the events of a calendar entity in window w.
// The source field of the returned events is left empty.
func (c *Client) Events(ctx context.Context, entityID string, w model.Window) ([]model.RawEvent, error) {
	q := url.Values{}
	q.Set("start", w.Start.Format(time.RFC3339))
	q.Set("end", w.End.Format(time.RFC3339))

	var events []model.RawEvent
	path := "/api/calendars/" + url.PathEscape(entityID) + "?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, fmt.Errorf("calendar %s: %w", entityID, err)
	}
	if events == nil {
		events = []model.RawEvent{}
	}
	return events, nil
}

type stateResponse struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastUpdated time.Time `json:"last_updated"`
}

// State returns a token that changes whenever the entity's state or last
// update time changes.
func (c *Client) State(ctx context.Context, entityID string) (string, error) {
	var st stateResponse
	if err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil, &st); err != nil {
		return "", fmt.Errorf("state %s: %w", entityID, err)
	}
	return st.State + "|" + st.LastUpdated.UTC().Format(time.RFC3339Nano), nil
}

// CallService invokes "domain.service" with data as the service payload.
func (c *Client) CallService(ctx context.Context, service string, data map[string]any) error {
	domain, name, ok := strings.Cut(service, ".")
	if !ok || domain == "" || name == "" {
		return fmt.Errorf("hass: malformed service %q", service)
	}
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	appLog.Info("hass service call", "service", service)
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("service %s: %w", service, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c.baseURL == "" {
		return errors.New("hass: base URL is empty")
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hass: decode response: %w", err)
	}
	return nil
}
