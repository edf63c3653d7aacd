package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/al-bashkir/reachable/internal/formdata"
	"github.com/al-bashkir/reachable/internal/logsanitize"
	"github.com/al-bashkir/reachable/internal/sso"
)

var (
	// ErrFlowEnded means the policy stopped the flow without finishing it.
	ErrFlowEnded = errors.New("login flow ended without a result")
	// ErrInteractionRequired means a page needs input the host was not given.
	ErrInteractionRequired = errors.New("login page requires user interaction")
	ErrTooManyHops         = errors.New("too many navigations")
)

const (
	defaultMaxHops = 30
	maxPageSize    = 4 << 20
)

// request is a pending navigation.
type request struct {
	method string
	target string
	body   []byte
}

// HTTPHost is a headless Host. It follows redirects one hop at a time and
// submits forms that need no user input, or whose inputs were supplied with
// WithFormValues.
type HTTPHost struct {
	client     *http.Client
	maxHops    int
	formValues map[string]string
	userAgent  string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// HTTPOption configures an HTTPHost.
type HTTPOption func(*HTTPHost)

// WithTransport sets the round tripper used for page loads.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(h *HTTPHost) {
		h.client.Transport = rt
	}
}

// WithMaxHops bounds the number of navigations in one Run.
func WithMaxHops(n int) HTTPOption {
	return func(h *HTTPHost) {
		if n > 0 {
			h.maxHops = n
		}
	}
}

// WithFormValues supplies values for visible form inputs, keyed by input
// name. A form is submitted once every visible input it has is supplied.
func WithFormValues(values map[string]string) HTTPOption {
	return func(h *HTTPHost) {
		h.formValues = values
	}
}

// WithUserAgent sets the User-Agent header on page loads.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPHost) {
		h.userAgent = ua
	}
}

// NewHTTPHost creates a headless host with its own cookie jar.
func NewHTTPHost(opts ...HTTPOption) (*HTTPHost, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	h := &HTTPHost{
		client: &http.Client{
			Jar: jar,
			// Every redirect hop goes through the policy.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxHops: defaultMaxHops,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Run loads start and keeps navigating until policy finishes the flow.
func (h *HTTPHost) Run(ctx context.Context, start string, policy sso.Policy) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	next := &request{method: http.MethodGet, target: start}
	var doc *page

	for hop := 0; next != nil; hop++ {
		if hop >= h.maxHops {
			return fmt.Errorf("%w: limit %d", ErrTooManyHops, h.maxHops)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var current sso.Document
		if doc != nil {
			current = doc
		}
		d := policy.OnNavigate(ctx, next.target, current)
		switch d.Action {
		case sso.ActionFinish:
			return nil
		case sso.ActionCancel:
			return ErrFlowEnded
		}

		loaded, follow, err := h.load(ctx, next, doc)
		if err != nil {
			return err
		}
		if loaded != nil {
			doc = loaded
		}
		next = follow
	}
	return ErrFlowEnded
}

// Stop cancels the running flow, if any.
func (h *HTTPHost) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.client.CloseIdleConnections()
}

// load performs one navigation. It returns the loaded page, if the response
// was a page, and the next navigation, if any.
func (h *HTTPHost) load(ctx context.Context, r *request, prev *page) (*page, *request, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.target, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", formdata.ContentType)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if prev != nil {
		req.Header.Set("Referer", prev.url.String())
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", logsanitize.RedactURL(r.target), err)
	}
	defer func() { _ = resp.Body.Close() }()

	slog.Debug("browser navigation",
		"method", r.method,
		"url", logsanitize.RedactURL(r.target),
		"status", resp.StatusCode,
	)

	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		target, err := req.URL.Parse(loc)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redirect location: %w", err)
		}
		next := &request{method: http.MethodGet, target: target.String()}
		if resp.StatusCode == http.StatusTemporaryRedirect || resp.StatusCode == http.StatusPermanentRedirect {
			next.method = r.method
			next.body = r.body
		}
		return nil, next, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("failed to load %s: status %d", logsanitize.RedactURL(r.target), resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "text/html" && mt != "application/xhtml+xml" {
			return nil, nil, fmt.Errorf("%w: unexpected %s response", ErrFlowEnded, mt)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read page: %w", err)
	}
	p, err := parsePage(req.URL, data)
	if err != nil {
		return nil, nil, err
	}

	next, err := h.submit(p)
	if err != nil {
		return nil, nil, err
	}
	return p, next, nil
}

// submit picks the form the page would send next.
func (h *HTTPHost) submit(p *page) (*request, error) {
	for _, f := range p.forms {
		values := f.values()
		if !f.hiddenOnly() {
			if !h.fills(f) {
				continue
			}
			for _, fl := range f.fields {
				if v, ok := h.formValues[fl.name]; ok {
					values[fl.name] = v
				}
			}
		}

		action, err := p.url.Parse(f.action)
		if err != nil {
			return nil, fmt.Errorf("invalid form action: %w", err)
		}

		if f.method == http.MethodPost {
			return &request{method: http.MethodPost, target: action.String(), body: formdata.Encode(values)}, nil
		}
		q := url.Values{}
		for k, v := range values {
			q.Set(k, v)
		}
		action.RawQuery = q.Encode()
		return &request{method: http.MethodGet, target: action.String()}, nil
	}

	if len(p.forms) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInteractionRequired, logsanitize.RedactURL(p.url.String()))
	}
	return nil, nil
}

// fills reports whether every visible input of f has a supplied value.
func (h *HTTPHost) fills(f form) bool {
	if len(h.formValues) == 0 {
		return false
	}
	visible := 0
	for _, fl := range f.fields {
		switch fl.typ {
		case "hidden", "submit", "button", "checkbox", "radio":
			continue
		}
		visible++
		if _, ok := h.formValues[fl.name]; !ok {
			return false
		}
	}
	return visible > 0
}
