package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
// Callers treat it as a re-authentication signal, not a transient failure.
var ErrUnauthorized = errors.New("unauthorized")

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) {
		c.Token = strings.TrimSpace(token)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

// Snapshot is the one-shot authoritative dashboard state.
type Snapshot struct {
	Robots      []Robot `json:"robots"`
	RecentScans []Scan  `json:"recent_scans"`
	Statistics  Stats   `json:"statistics"`
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DashboardCurrent fetches the full dashboard snapshot. A 401 surfaces
// as ErrUnauthorized; any other non-200 is a transient failure the
// caller may retry.
func (c *Client) DashboardCurrent(ctx context.Context) (Snapshot, error) {
	resp, err := c.get(ctx, "/api/dashboard/current")
	if err != nil {
		return Snapshot{}, fmt.Errorf("dashboard request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return Snapshot{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("dashboard failed: %d", resp.StatusCode)
	}
	var out Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

// ZoneStatus fetches the per-cell latest-scan map keyed by "A12"-style
// cell labels. Cells never scanned map to null.
func (c *Client) ZoneStatus(ctx context.Context) (map[string]*Scan, error) {
	resp, err := c.get(ctx, "/api/zones/status")
	if err != nil {
		return nil, fmt.Errorf("zone status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zone status failed: %d", resp.StatusCode)
	}
	var out map[string]*Scan
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode zone status: %w", err)
	}
	return out, nil
}

// PublishRobotData posts one robot scan pass to the ingest endpoint.
// Used by robot firmware and the bundled emulator.
func (c *Client) PublishRobotData(ctx context.Context, data RobotData) error {
	resp, err := c.postJSON(ctx, "/api/robots/data", data)
	if err != nil {
		return fmt.Errorf("publish robot data: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.HTTP.Do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return c.HTTP.Do(req)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}
