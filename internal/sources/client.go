// Package sources fetches raw bug payloads from Slack, Zendesk and Shortcut.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/castifi/bugtracker/internal/types"
)

// DefaultTimeout bounds every HTTP call; it is the only deadline in an ingestion cycle
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response is read
const maxBodyBytes = 32 << 20

// ErrNotConfigured is returned when a source is missing credentials
var ErrNotConfigured = errors.New("source not configured")

// ClientConfig configures the HTTP client behavior
type ClientConfig struct {
	// BaseURL is the base URL for all requests
	BaseURL string

	// Timeout for individual requests (default: 10s)
	Timeout time.Duration

	// RateLimit requests per second (default: 2)
	RateLimit float64

	// RateBurst maximum burst size (default: 1)
	RateBurst int

	// UserAgent string (default: "bt/<version>")
	UserAgent string

	// Transport allows injecting a custom HTTP transport (tests)
	Transport http.RoundTripper
}

// Client is a rate-limited JSON HTTP client. It does not retry: a failed
// fetch is reported and the next scheduled cycle tries again.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a client, filling zero fields with defaults
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.RateBurst == 0 {
		config.RateBurst = 1
	}
	if config.UserAgent == "" {
		config.UserAgent = "bt"
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// request describes one GET call
type request struct {
	Path    string
	Query   url.Values
	Headers map[string]string
	// Auth decorates the request (basic auth etc.)
	Auth func(*http.Request)
}

// getJSON performs a GET and decodes a 2xx JSON body into target
func (c *Client) getJSON(ctx context.Context, req request, target interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", types.ErrExternal, err)
	}

	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", types.ErrExternal, err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Auth != nil {
		req.Auth(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", types.ErrExternal, req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", types.ErrExternal, req.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("%w: GET %s: status %d: %s", types.ErrExternal, req.Path, resp.StatusCode, snippet)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: decode %s: %v", types.ErrExternal, req.Path, err)
	}
	return nil
}
