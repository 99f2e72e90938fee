package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the Grafana HTTP API using bearer-token auth. A client
// is validated against the server at construction time so that credential
// or connectivity problems surface before any job work begins.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates and validates a Grafana API client.
func NewClient(ctx context.Context, baseURL, token string, log *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("grafana url is required")
	}
	if token == "" {
		return nil, fmt.Errorf("grafana token is required")
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}

	if err := c.validate(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// validate checks that the server is reachable and the token is accepted.
func (c *Client) validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/user", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("grafana validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("grafana validation failed: %s returned %d: %s", c.baseURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.log.Info("grafana client validated", zap.String("url", c.baseURL))
	return nil
}

// BaseURL returns the server base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Headers returns the auth headers attached to every browser request made
// on behalf of this client. The returned map is a copy.
func (c *Client) Headers() map[string]string {
	return map[string]string{
		"Accept":        "application/json",
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + c.token,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}
}

// getJSON performs an authenticated GET and decodes the response body.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON performs an authenticated POST and decodes the response body.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s returned %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateShortURL exchanges a long authenticated view URL for a short
// redirect URL via the server's short-URL API. Callers must treat this as
// fallible and fall back to the long URL.
func (c *Client) CreateShortURL(ctx context.Context, viewURL string) (string, error) {
	relPath := strings.TrimPrefix(viewURL, c.baseURL+"/")

	var resp struct {
		UID string `json:"uid"`
	}
	if err := c.postJSON(ctx, "/api/short-urls", map[string]string{"path": relPath}, &resp); err != nil {
		return "", fmt.Errorf("short-url creation failed: %w", err)
	}
	if resp.UID == "" {
		return "", fmt.Errorf("short-url creation returned empty uid")
	}

	return fmt.Sprintf("%s/goto/%s", c.baseURL, resp.UID), nil
}
