// Package provider is a thin client for the external scheduling provider's
// REST API (Calendly-compatible): identity lookup, scheduled-event and
// invitee listing, and webhook subscription management. The client is
// stateless; callers pass the per-account access token on every call.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// AuthError indicates the access token was rejected by the provider, or the
// identity response did not contain the expected fields. The token likely
// expired or was revoked; the caller should prompt re-authentication.
type AuthError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider auth failed during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider auth failed during %s: status %d", e.Op, e.StatusCode)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError indicates a transient provider failure (outage, rate limit,
// transport error). The caller may retry the whole operation later.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider request %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider request %s failed: status %d", e.Op, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Identity describes the account behind an access token.
type Identity struct {
	URI           string
	Email         string
	SchedulingURL string
	Organization  string
}

// Event is a scheduled event as reported by the provider. Start and end are
// nil when the upstream payload omitted or mangled them; such events are
// skipped by the reconciler, not treated as errors.
type Event struct {
	URI       string
	StartTime *time.Time
	EndTime   *time.Time
	Status    string
}

// Invitee is a person booked into an event.
type Invitee struct {
	Email     string
	Status    string
	CreatedAt *time.Time
}

// WebhookSubscription is a registered provider-side webhook.
type WebhookSubscription struct {
	URI    string   `json:"uri"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	State  string   `json:"state"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// Client calls the provider's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, accessToken, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

type identityPayload struct {
	Resource struct {
		URI                 string `json:"uri"`
		Email               string `json:"email"`
		SchedulingURL       string `json:"scheduling_url"`
		CurrentOrganization string `json:"current_organization"`
	} `json:"resource"`
}

// Me resolves the identity behind the access token. A non-2xx response or a
// response without the expected resource URI yields an AuthError.
func (c *Client) Me(ctx context.Context, accessToken string) (*Identity, error) {
	resp, err := c.get(ctx, accessToken, c.baseURL+"/users/me")
	if err != nil {
		return nil, &AuthError{Op: "me", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{Op: "me", StatusCode: resp.StatusCode}
	}

	var payload identityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &AuthError{Op: "me", Err: err}
	}
	if payload.Resource.URI == "" {
		return nil, &AuthError{Op: "me", Err: fmt.Errorf("response missing resource uri")}
	}

	return &Identity{
		URI:           payload.Resource.URI,
		Email:         payload.Resource.Email,
		SchedulingURL: payload.Resource.SchedulingURL,
		Organization:  payload.Resource.CurrentOrganization,
	}, nil
}

type eventPayload struct {
	URI       string `json:"uri"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

type eventCollection struct {
	Collection []eventPayload `json:"collection"`
}

// ListActiveEvents lists the account's active scheduled events, bounded to
// pageSize entries. A non-2xx response or a transport failure yields an
// UpstreamError. A missing or malformed collection field is treated as zero
// events, never as an error.
func (c *Client) ListActiveEvents(ctx context.Context, accessToken, userURI string, pageSize int) ([]Event, error) {
	q := url.Values{}
	q.Set("user", userURI)
	q.Set("status", "active")
	q.Set("count", strconv.Itoa(pageSize))

	resp, err := c.get(ctx, accessToken, c.baseURL+"/scheduled_events?"+q.Encode())
	if err != nil {
		return nil, &UpstreamError{Op: "list_events", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: "list_events", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Op: "list_events", Err: err}
	}

	var payload eventCollection
	if err := json.Unmarshal(body, &payload); err != nil {
		// Shape mismatch on a successful response: no events.
		return []Event{}, nil
	}

	events := make([]Event, 0, len(payload.Collection))
	for _, ev := range payload.Collection {
		events = append(events, Event{
			URI:       ev.URI,
			StartTime: parseTime(ev.StartTime),
			EndTime:   parseTime(ev.EndTime),
			Status:    ev.Status,
		})
	}
	return events, nil
}

type inviteePayload struct {
	Email     string `json:"email"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type inviteeCollection struct {
	Collection []inviteePayload `json:"collection"`
}

// ListInvitees lists the invitees of one event. The event URI is the
// provider's canonical resource URL, so the request goes straight to it.
// Failures surface as UpstreamError; the reconciler swallows them since
// invitee data is enrichment only.
func (c *Client) ListInvitees(ctx context.Context, accessToken, eventURI string) ([]Invitee, error) {
	resp, err := c.get(ctx, accessToken, eventURI+"/invitees")
	if err != nil {
		return nil, &UpstreamError{Op: "list_invitees", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: "list_invitees", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Op: "list_invitees", Err: err}
	}

	var payload inviteeCollection
	if err := json.Unmarshal(body, &payload); err != nil {
		return []Invitee{}, nil
	}

	invitees := make([]Invitee, 0, len(payload.Collection))
	for _, inv := range payload.Collection {
		invitees = append(invitees, Invitee{
			Email:     inv.Email,
			Status:    inv.Status,
			CreatedAt: parseTime(inv.CreatedAt),
		})
	}
	return invitees, nil
}

type subscriptionCollection struct {
	Collection []WebhookSubscription `json:"collection"`
}

// ListWebhookSubscriptions lists the webhooks registered for an organization.
func (c *Client) ListWebhookSubscriptions(ctx context.Context, accessToken, organization string) ([]WebhookSubscription, error) {
	q := url.Values{}
	q.Set("organization", organization)

	resp, err := c.get(ctx, accessToken, c.baseURL+"/webhook_subscriptions?"+q.Encode())
	if err != nil {
		return nil, &UpstreamError{Op: "list_webhooks", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: "list_webhooks", StatusCode: resp.StatusCode}
	}

	var payload subscriptionCollection
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return []WebhookSubscription{}, nil
	}
	return payload.Collection, nil
}

// CreateWebhookSubscription registers a webhook for invitee events against
// the given organization.
func (c *Client) CreateWebhookSubscription(ctx context.Context, accessToken, callbackURL, organization string, events []string) (*WebhookSubscription, error) {
	body, err := json.Marshal(map[string]interface{}{
		"url":          callbackURL,
		"events":       events,
		"organization": organization,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook_subscriptions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "create_webhook", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: "create_webhook", StatusCode: resp.StatusCode}
	}

	var sub WebhookSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, &UpstreamError{Op: "create_webhook", Err: err}
	}
	return &sub, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
