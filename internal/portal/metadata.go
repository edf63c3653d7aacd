package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Metadata is the public description of a portal returned by RenderSite.
// A nil login section means that method is disabled.
type Metadata struct {
	ReachDomain     string
	SchoolName      string
	LoginBackground string
	SchoolEmblem    string

	Direct    *DirectLogin
	SAML      *SAMLLogin
	Blackbaud *BlackbaudLogin
}

// DirectLogin describes the portal's own username/password login.
type DirectLogin struct {
	ForgotPasswordLink string
}

// SAMLLogin describes a SAML identity provider.
type SAMLLogin struct {
	IdPURL string
	Label  string
}

// BlackbaudLogin describes the Blackbaud SSO entry point.
type BlackbaudLogin struct {
	SSOURL string
	Label  string
}

// renderSite is the RenderSite wire format. Flags are "0" or "1" strings.
type renderSite struct {
	BaseURL         string  `json:"baseURL"`
	SchoolName      string  `json:"schoolName"`
	LoginBackground *string `json:"loginBkg"`
	SchoolEmblem    *string `json:"schoolEmblem"`

	HideManualLogin    string `json:"hideManualLogin"`
	ForgotPasswordLink string `json:"fpLink"`

	SAMLEnabled string  `json:"samlm"`
	SAMLLabel   *string `json:"samlLabel"`
	SAMLIdPURL  *string `json:"samlIDPURL"`

	BlackbaudEnabled string  `json:"blackbaudSSOEnabled"`
	BlackbaudLabel   *string `json:"bbLabel"`
	BlackbaudSSOURL  *string `json:"blackbaudSSOURL"`
}

func (r renderSite) metadata() Metadata {
	m := Metadata{
		ReachDomain:     r.BaseURL,
		SchoolName:      r.SchoolName,
		LoginBackground: absoluteOrEmpty(r.LoginBackground),
		SchoolEmblem:    absoluteOrEmpty(r.SchoolEmblem),
	}

	if r.HideManualLogin == "0" {
		m.Direct = &DirectLogin{ForgotPasswordLink: absoluteOrEmpty(&r.ForgotPasswordLink)}
	}

	if r.SAMLEnabled == "1" && r.SAMLLabel != nil {
		if idp := absoluteOrEmpty(r.SAMLIdPURL); idp != "" {
			m.SAML = &SAMLLogin{IdPURL: idp, Label: *r.SAMLLabel}
		}
	}

	if r.BlackbaudEnabled == "1" && r.BlackbaudLabel != nil {
		if sso := absoluteOrEmpty(r.BlackbaudSSOURL); sso != "" {
			m.Blackbaud = &BlackbaudLogin{SSOURL: sso, Label: *r.BlackbaudLabel}
		}
	}

	return m
}

func absoluteOrEmpty(s *string) string {
	if s == nil || *s == "" {
		return ""
	}
	u, err := url.Parse(*s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return *s
}

// Metadata fetches the portal description for host. It is never cached.
func (c *Client) Metadata(ctx context.Context, host string) (Metadata, error) {
	base, err := BaseURL(host)
	if err != nil {
		return Metadata{}, err
	}

	body, err := c.postForm(ctx, endpoint(base, "RenderSite"), map[string]string{"data": "1"})
	if err != nil {
		return Metadata{}, err
	}

	var site renderSite
	if err := json.Unmarshal(body, &site); err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if site.SchoolName == "" {
		return Metadata{}, fmt.Errorf("%w: portal metadata has no school name", ErrDecode)
	}

	return site.metadata(), nil
}
