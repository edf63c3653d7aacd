package browser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/browser"

	"github.com/al-bashkir/reachable/internal/formdata"
	"github.com/al-bashkir/reachable/internal/sso"
)

const interactivePrompt = `Complete the login in your browser.
When the browser reaches the school portal, paste the address from the
address bar here. For SAML logins, first paste the SAMLResponse form value
as SAMLResponse=<value>, then the portal address.
`

// InteractiveHost runs a flow in the user's own browser. The user reports
// each address the browser lands on by pasting it into in.
type InteractiveHost struct {
	in      io.Reader
	out     io.Writer
	openURL func(string) error

	mu     sync.Mutex
	cancel context.CancelFunc
}

// InteractiveOption configures an InteractiveHost.
type InteractiveOption func(*InteractiveHost)

// WithBrowserOpen overrides how the start URL is opened. The default uses
// the system browser.
func WithBrowserOpen(openURL func(string) error) InteractiveOption {
	return func(h *InteractiveHost) {
		h.openURL = openURL
	}
}

// NewInteractiveHost reads pasted input from in and writes prompts to out.
func NewInteractiveHost(in io.Reader, out io.Writer, opts ...InteractiveOption) *InteractiveHost {
	h := &InteractiveHost{
		in:      in,
		out:     out,
		openURL: browser.OpenURL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// pasted holds form values the user pasted. It stands in for the page the
// user's browser is showing.
type pasted struct {
	fields map[string]string
}

func (p *pasted) EvaluateScript(_ context.Context, js string) (any, error) {
	if js != sso.SAMLResponseScript {
		return nil, ErrUnsupportedScript
	}
	v, ok := p.fields["SAMLResponse"]
	if !ok {
		return nil, fmt.Errorf("%w: SAMLResponse was not pasted", ErrElementNotFound)
	}
	return v, nil
}

// Run opens start and feeds pasted addresses to policy until it finishes.
func (h *InteractiveHost) Run(ctx context.Context, start string, policy sso.Policy) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	if d := policy.OnNavigate(ctx, start, nil); d.Action != sso.ActionAllow {
		if d.Action == sso.ActionFinish {
			return nil
		}
		return ErrFlowEnded
	}

	_, _ = fmt.Fprint(h.out, interactivePrompt)
	if err := h.openURL(start); err != nil {
		_, _ = fmt.Fprintf(h.out, "Could not open a browser. Visit:\n  %s\n", start)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(h.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxPageSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	doc := &pasted{fields: make(map[string]string)}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return ErrFlowEnded
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if !isAbsoluteURL(line) {
				for k, v := range formdata.Decode([]byte(line)) {
					doc.fields[k] = v
				}
				continue
			}

			switch policy.OnNavigate(ctx, line, doc).Action {
			case sso.ActionFinish:
				return nil
			case sso.ActionCancel:
				return ErrFlowEnded
			default:
				_, _ = fmt.Fprintln(h.out, "Not the final address yet, keep going and paste the next one.")
			}
		}
	}
}

// Stop abandons the running flow.
func (h *InteractiveHost) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
