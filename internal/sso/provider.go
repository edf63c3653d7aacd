// Package sso drives redirect-based single sign-on flows.
//
// A Flow knows where a provider's login starts and how to recognize the
// redirect that ends it. An Interceptor wraps one Flow for one login attempt
// and turns every navigation the browser host is about to perform into a
// Decision. The browser host itself lives outside this package.
package sso

import (
	"errors"
	"fmt"
	"strings"
)

// Provider is one of the login methods a portal may enable.
type Provider string

const (
	ProviderDirect    Provider = "direct"
	ProviderSAML      Provider = "saml"
	ProviderBlackbaud Provider = "blackbaud"
)

// Providers lists every known provider.
var Providers = []Provider{ProviderDirect, ProviderSAML, ProviderBlackbaud}

var (
	ErrUnknownProvider = errors.New("unknown login provider")
	// ErrNoRedirectFlow is returned for providers that do not log in through
	// a browser redirect.
	ErrNoRedirectFlow = errors.New("provider has no redirect flow")
)

// ParseProvider parses a provider name case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Redirect reports whether the provider logs in through a browser redirect.
func (p Provider) Redirect() bool {
	return p == ProviderSAML || p == ProviderBlackbaud
}

func (p Provider) String() string {
	return string(p)
}
