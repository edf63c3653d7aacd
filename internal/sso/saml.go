package sso

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/russellhaering/gosaml2/types"
)

var (
	ErrSAMLResponseMissing = errors.New("SAMLResponse not found on page")
	ErrSAMLStatus          = errors.New("identity provider rejected login")
)

const samlStatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

type samlFlow struct {
	matcher
	entry string
}

func (f *samlFlow) Provider() Provider { return ProviderSAML }

func (f *samlFlow) InitialURL() string { return f.entry }

func (f *samlFlow) Terminal(u *url.URL) bool {
	return f.onPortal(u) && pathHas(u, "samlACS")
}

// Decide reads the SAMLResponse form field from the page that is posting to
// the ACS. The field is read before the navigation is cancelled, so the
// value comes from the IdP's auto-submit page and not from the portal.
func (f *samlFlow) Decide(ctx context.Context, _ *url.URL, doc Document) Decision {
	if doc == nil {
		return Fail(fmt.Errorf("%w: no document", ErrSAMLResponseMissing))
	}

	v, err := doc.EvaluateScript(ctx, SAMLResponseScript)
	if err != nil {
		return Fail(fmt.Errorf("%w: %w", ErrSAMLResponseMissing, err))
	}
	value, ok := v.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return Fail(ErrSAMLResponseMissing)
	}

	if err := checkSAMLStatus(value); err != nil {
		return Fail(err)
	}
	return Succeed(value)
}

// checkSAMLStatus rejects responses whose top-level status is present and
// not Success. Responses that cannot be parsed are left for the portal to
// judge.
func checkSAMLStatus(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil
	}

	var resp types.Response
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil
	}
	if resp.Status == nil || resp.Status.StatusCode == nil {
		return nil
	}
	if code := resp.Status.StatusCode.Value; code != samlStatusSuccess {
		return fmt.Errorf("%w: %s", ErrSAMLStatus, code)
	}
	return nil
}
