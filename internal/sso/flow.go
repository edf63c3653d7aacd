package sso

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Flow is the provider-specific part of a redirect login.
type Flow interface {
	Provider() Provider
	// InitialURL is where the browser host starts.
	InitialURL() string
	// Decide handles a navigation to target that already matched the
	// portal's terminal redirect shape.
	Decide(ctx context.Context, target *url.URL, doc Document) Decision
	// Terminal reports whether target has the terminal redirect shape.
	Terminal(target *url.URL) bool
}

// NewFlow returns the flow for provider. portalHost is the portal the
// terminal redirect must land on and entryURL is the provider's login page.
func NewFlow(provider Provider, portalHost, entryURL string) (Flow, error) {
	if !provider.Redirect() {
		if provider == ProviderDirect {
			return nil, ErrNoRedirectFlow
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if portalHost == "" {
		return nil, fmt.Errorf("portal host is required")
	}
	u, err := url.Parse(entryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s entry URL %q", provider, entryURL)
	}

	m := matcher{host: portalHost}
	switch provider {
	case ProviderSAML:
		return &samlFlow{matcher: m, entry: entryURL}, nil
	default:
		return &blackbaudFlow{matcher: m, entry: entryURL}, nil
	}
}

// matcher recognizes URLs on the portal host.
type matcher struct {
	host string
}

func (m matcher) onPortal(u *url.URL) bool {
	// Ports only take part in the comparison when the portal host has one.
	if _, _, err := net.SplitHostPort(m.host); err == nil {
		return strings.EqualFold(u.Host, m.host)
	}
	return strings.EqualFold(u.Hostname(), m.host)
}

func pathHas(u *url.URL, segments ...string) bool {
	have := make(map[string]bool)
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			have[s] = true
		}
	}
	for _, s := range segments {
		if !have[s] {
			return false
		}
	}
	return true
}

type blackbaudFlow struct {
	matcher
	entry string
}

func (f *blackbaudFlow) Provider() Provider { return ProviderBlackbaud }

func (f *blackbaudFlow) InitialURL() string { return f.entry }

func (f *blackbaudFlow) Terminal(u *url.URL) bool {
	return f.onPortal(u) && pathHas(u, "blackbaud", "sso")
}

// Decide finishes with the sso_token query parameter. A redirect without a
// token is not terminal and is let through.
func (f *blackbaudFlow) Decide(_ context.Context, u *url.URL, _ Document) Decision {
	token := u.Query().Get("sso_token")
	if token == "" {
		return Allow()
	}
	return Succeed(token)
}
