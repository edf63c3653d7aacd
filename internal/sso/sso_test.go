package sso

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocument returns a fixed script result.
type fakeDocument struct {
	value any
	err   error
	calls int
}

func (d *fakeDocument) EvaluateScript(_ context.Context, js string) (any, error) {
	d.calls++
	if js != SAMLResponseScript {
		return nil, errors.New("unexpected script")
	}
	return d.value, d.err
}

func newInterceptor(t *testing.T, p Provider) *Interceptor {
	t.Helper()
	entry := "https://idp.example/login"
	flow, err := NewFlow(p, "portal.example", entry)
	require.NoError(t, err)
	assert.Equal(t, entry, flow.InitialURL())
	assert.Equal(t, p, flow.Provider())
	return NewInterceptor(flow)
}

func TestParseProvider(t *testing.T) {
	for _, name := range []string{"direct", "SAML", " blackbaud "} {
		_, err := ParseProvider(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseProvider("oidc")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewFlow(t *testing.T) {
	_, err := NewFlow(ProviderDirect, "portal.example", "https://x.example")
	assert.ErrorIs(t, err, ErrNoRedirectFlow)

	_, err = NewFlow(Provider("ldap"), "portal.example", "https://x.example")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewFlow(ProviderSAML, "", "https://x.example")
	assert.Error(t, err)

	_, err = NewFlow(ProviderBlackbaud, "portal.example", "/relative")
	assert.Error(t, err)
}

func TestBlackbaudInterception(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		action   Action
		artifact string
	}{
		{
			name:     "terminal redirect",
			target:   "https://portal.example/blackbaud/sso?sso_token=XYZ",
			action:   ActionFinish,
			artifact: "XYZ",
		},
		{
			name:   "different host",
			target: "https://other.example/blackbaud/sso?sso_token=XYZ",
			action: ActionAllow,
		},
		{
			name:   "missing token",
			target: "https://portal.example/blackbaud/sso",
			action: ActionAllow,
		},
		{
			name:   "empty token",
			target: "https://portal.example/blackbaud/sso?sso_token=",
			action: ActionAllow,
		},
		{
			name:   "partial path",
			target: "https://portal.example/blackbaud/login?sso_token=XYZ",
			action: ActionAllow,
		},
		{
			name:   "idp page",
			target: "https://app.blackbaud.example/signin?redirect=portal.example",
			action: ActionAllow,
		},
		{
			name:     "host case and nested path",
			target:   "https://PORTAL.example/x/sso/blackbaud?sso_token=a%2Bb",
			action:   ActionFinish,
			artifact: "a+b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newInterceptor(t, ProviderBlackbaud)
			d := i.OnNavigate(context.Background(), tt.target, nil)
			assert.Equal(t, tt.action, d.Action)
			if tt.action == ActionFinish {
				assert.False(t, d.Navigate())
				require.True(t, d.Result.OK())
				assert.Equal(t, tt.artifact, d.Result.Artifact)
				assert.True(t, i.Finished())
			} else {
				assert.True(t, d.Navigate())
				assert.False(t, i.Finished())
			}
		})
	}
}

func TestBlackbaudKeepsWatchingAfterAmbiguousRedirect(t *testing.T) {
	i := newInterceptor(t, ProviderBlackbaud)
	ctx := context.Background()

	assert.Equal(t, ActionAllow, i.OnNavigate(ctx, "https://portal.example/blackbaud/sso", nil).Action)
	d := i.OnNavigate(ctx, "https://portal.example/blackbaud/sso?sso_token=later", nil)
	assert.Equal(t, ActionFinish, d.Action)
	assert.Equal(t, "later", d.Result.Artifact)
}

func TestSAMLInterception(t *testing.T) {
	failed := base64.StdEncoding.EncodeToString([]byte(
		`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="r1" Version="2.0">` +
			`<samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Requester"/></samlp:Status>` +
			`</samlp:Response>`))
	succeeded := base64.StdEncoding.EncodeToString([]byte(
		`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="r1" Version="2.0">` +
			`<samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status>` +
			`</samlp:Response>`))

	tests := []struct {
		name     string
		target   string
		doc      *fakeDocument
		action   Action
		artifact string
		wantErr  error
		reads    int
	}{
		{
			name:     "field present",
			target:   "https://portal.example/samlACS",
			doc:      &fakeDocument{value: "PHNhbWw+"},
			action:   ActionFinish,
			artifact: "PHNhbWw+",
			reads:    1,
		},
		{
			name:     "success status",
			target:   "https://portal.example/samlACS",
			doc:      &fakeDocument{value: succeeded},
			action:   ActionFinish,
			artifact: succeeded,
			reads:    1,
		},
		{
			name:    "field absent",
			target:  "https://portal.example/samlACS",
			doc:     &fakeDocument{value: nil},
			action:  ActionFinish,
			wantErr: ErrSAMLResponseMissing,
			reads:   1,
		},
		{
			name:    "script error",
			target:  "https://portal.example/samlACS",
			doc:     &fakeDocument{err: errors.New("TypeError: null is not an object")},
			action:  ActionFinish,
			wantErr: ErrSAMLResponseMissing,
			reads:   1,
		},
		{
			name:    "empty value",
			target:  "https://portal.example/samlACS",
			doc:     &fakeDocument{value: ""},
			action:  ActionFinish,
			wantErr: ErrSAMLResponseMissing,
			reads:   1,
		},
		{
			name:    "non string value",
			target:  "https://portal.example/samlACS",
			doc:     &fakeDocument{value: 12.0},
			action:  ActionFinish,
			wantErr: ErrSAMLResponseMissing,
			reads:   1,
		},
		{
			name:    "idp rejected",
			target:  "https://portal.example/samlACS",
			doc:     &fakeDocument{value: failed},
			action:  ActionFinish,
			wantErr: ErrSAMLStatus,
			reads:   1,
		},
		{
			name:   "other host",
			target: "https://evil.example/samlACS",
			doc:    &fakeDocument{value: "x"},
			action: ActionAllow,
		},
		{
			name:   "idp page",
			target: "https://idp.example/saml/login",
			doc:    &fakeDocument{value: "x"},
			action: ActionAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newInterceptor(t, ProviderSAML)
			d := i.OnNavigate(context.Background(), tt.target, tt.doc)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.reads, tt.doc.calls)

			if tt.wantErr != nil {
				assert.ErrorIs(t, d.Result.Err, tt.wantErr)
				assert.False(t, d.Navigate())
				return
			}
			if tt.action == ActionFinish {
				assert.Equal(t, tt.artifact, d.Result.Artifact)
			}
		})
	}
}

func TestSAMLWithoutDocument(t *testing.T) {
	i := newInterceptor(t, ProviderSAML)
	d := i.OnNavigate(context.Background(), "https://portal.example/samlACS", nil)
	assert.Equal(t, ActionFinish, d.Action)
	assert.ErrorIs(t, d.Result.Err, ErrSAMLResponseMissing)
}

func TestInterceptorIsOneShot(t *testing.T) {
	targets := []string{
		"https://portal.example/blackbaud/sso?sso_token=second",
		"https://portal.example/samlACS",
		"https://idp.example/anything",
		"::not a url",
	}

	for _, p := range []Provider{ProviderSAML, ProviderBlackbaud} {
		t.Run(string(p), func(t *testing.T) {
			i := newInterceptor(t, p)
			doc := &fakeDocument{value: "first"}
			ctx := context.Background()

			first := "https://portal.example/samlACS"
			if p == ProviderBlackbaud {
				first = "https://portal.example/blackbaud/sso?sso_token=first"
			}
			d := i.OnNavigate(ctx, first, doc)
			require.Equal(t, ActionFinish, d.Action)

			for _, target := range targets {
				assert.Equal(t, ActionCancel, i.OnNavigate(ctx, target, doc).Action, target)
			}

			res, ok := i.Result()
			require.True(t, ok)
			assert.Equal(t, "first", res.Artifact)
			assert.LessOrEqual(t, doc.calls, 1)
		})
	}
}

func TestPortalHostWithPort(t *testing.T) {
	flow, err := NewFlow(ProviderBlackbaud, "127.0.0.1:8443", "https://idp.example")
	require.NoError(t, err)
	i := NewInterceptor(flow)

	d := i.OnNavigate(context.Background(), "https://127.0.0.1:9999/blackbaud/sso?sso_token=x", nil)
	assert.Equal(t, ActionAllow, d.Action)

	d = i.OnNavigate(context.Background(), "https://127.0.0.1:8443/blackbaud/sso?sso_token=x", nil)
	assert.Equal(t, ActionFinish, d.Action)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "allow", ActionAllow.String())
	assert.Equal(t, "cancel", ActionCancel.String())
	assert.Equal(t, "finish", ActionFinish.String())
	assert.Equal(t, "unknown", Action(42).String())
}
