package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"unicode/utf8"

	"github.com/al-bashkir/reachable/internal/extract"
	"github.com/al-bashkir/reachable/internal/logsanitize"
)

// Direct exchanges a token obtained outside any redirect flow for a Session.
// The portal accepts it on the same endpoint as a Blackbaud token.
func (c *Client) Direct(ctx context.Context, host, token string) (Session, error) {
	return c.exchangeToken(ctx, host, token)
}

// Blackbaud exchanges the sso_token recovered from the Blackbaud redirect.
func (c *Client) Blackbaud(ctx context.Context, host, ssoToken string) (Session, error) {
	return c.exchangeToken(ctx, host, ssoToken)
}

// SAML posts the SAMLResponse recovered from the IdP to the portal ACS.
func (c *Client) SAML(ctx context.Context, host, samlResponse string) (Session, error) {
	base, err := BaseURL(host)
	if err != nil {
		return Session{}, err
	}

	body, err := c.postForm(ctx, endpoint(base, "samlACS"), map[string]string{
		"SAMLResponse": samlResponse,
	})
	if err != nil {
		return Session{}, err
	}
	return sessionFromPage(base, body)
}

func (c *Client) exchangeToken(ctx context.Context, host, token string) (Session, error) {
	base, err := BaseURL(host)
	if err != nil {
		return Session{}, err
	}

	u := base.JoinPath("blackbaud", "sso")
	u.RawQuery = url.Values{"sso_token": {token}}.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return Session{}, err
	}
	return sessionFromPage(base, body)
}

// sessionFromPage runs the extractor over the login page body.
func sessionFromPage(base *url.URL, body []byte) (Session, error) {
	if !utf8.Valid(body) {
		return Session{}, fmt.Errorf("%w: login page is not valid UTF-8", ErrDecode)
	}

	token, matrix, err := extract.TokenAndMatrix(string(body))
	if err != nil {
		if errors.Is(err, extract.ErrBusiness) {
			return Session{}, err
		}
		slog.Warn("login page not recognized",
			"host", logsanitize.Sanitize(base.Host),
			"error", err,
		)
		return Session{}, fmt.Errorf("%w: %w", ErrExtract, err)
	}

	return Session{
		BaseURL:   base.Scheme + "://" + base.Host,
		Token:     token,
		ContactID: matrix.ContactID,
	}, nil
}
