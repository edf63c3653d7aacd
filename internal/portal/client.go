// Package portal is the HTTP client for a school's portal backend.
//
// It exchanges SSO artifacts for a Session, fetches the public portal
// metadata that lists the enabled login methods, and performs the small
// authenticated calls made after login.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/al-bashkir/reachable/internal/formdata"
	"github.com/al-bashkir/reachable/internal/logsanitize"
)

// Failure classes returned by Client methods.
var (
	ErrInvalidHost = errors.New("invalid portal host")
	ErrTransport   = errors.New("portal request failed")
	ErrDecode      = errors.New("unexpected portal response")
	ErrExtract     = errors.New("login response not recognized")
)

// DefaultSearchURL is the school directory search endpoint.
const DefaultSearchURL = "https://us-central1-reach4-172100.cloudfunctions.net/SchoolSearch"

const (
	defaultRequestsPerSecond = 5
	defaultBurst             = 10
	defaultSearchCacheSize   = 128
	defaultSearchCacheTTL    = 5 * time.Minute
	defaultMinQueryLength    = 3
	maxBodySize              = 4 << 20
)

// Client talks to portal hosts. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	searchURL      string
	userAgent      string
	limiter        *hostRateLimiter
	searchCache    *expirable.LRU[string, []School]
	minQueryLength int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithSearchURL overrides the school directory search endpoint.
func WithSearchURL(u string) Option {
	return func(cl *Client) {
		cl.searchURL = u
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithRateLimit limits outbound requests per portal host.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		cl.limiter = newHostRateLimiter(rate.Limit(rps), burst)
	}
}

// WithSearchCache sizes the school search result cache. A size of zero
// disables caching.
func WithSearchCache(size int, ttl time.Duration) Option {
	return func(cl *Client) {
		if size <= 0 {
			cl.searchCache = nil
			return
		}
		cl.searchCache = expirable.NewLRU[string, []School](size, nil, ttl)
	}
}

// WithMinQueryLength sets the shortest query Search sends to the directory.
func WithMinQueryLength(n int) Option {
	return func(cl *Client) {
		cl.minQueryLength = n
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:     http.DefaultClient,
		searchURL:      DefaultSearchURL,
		limiter:        newHostRateLimiter(defaultRequestsPerSecond, defaultBurst),
		searchCache:    expirable.NewLRU[string, []School](defaultSearchCacheSize, nil, defaultSearchCacheTTL),
		minQueryLength: defaultMinQueryLength,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL validates host and returns the https base URL of the portal.
// host must be a bare hostname with an optional port.
func BaseURL(host string) (*url.URL, error) {
	if host == "" || strings.TrimSpace(host) != host {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, logsanitize.Sanitize(host))
	}
	u, err := url.Parse("https://" + host)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHost, err)
	}
	if u.Host != host || u.Hostname() == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, logsanitize.Sanitize(host))
	}
	return u, nil
}

func endpoint(base *url.URL, elem ...string) string {
	return base.JoinPath(elem...).String()
}

// do sends req and returns the response body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if err := c.limiter.wait(req.Context(), req.URL.Host); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}

	slog.Debug("portal request",
		"method", req.Method,
		"url", logsanitize.RedactURL(req.URL.String()),
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, target string, fields map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(formdata.Encode(fields)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", formdata.ContentType)
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, target string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
