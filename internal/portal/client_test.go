package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/reachable/internal/extract"
	"github.com/al-bashkir/reachable/internal/formdata"
)

const loginPage = `<html><script>
var tokenID = 'tok-123';
var matrix = '"{\"cid\":42,\"uid\":7,\"f\":\"Ada\",\"l\":\"Lovelace\",\"r\":3}"';
</script></html>`

// newPortal starts a TLS portal and returns a client trusting it plus its host.
func newPortal(t *testing.T, h http.Handler, opts ...Option) (*Client, string) {
	t.Helper()
	ts := httptest.NewTLSServer(h)
	t.Cleanup(ts.Close)

	host := strings.TrimPrefix(ts.URL, "https://")
	opts = append([]Option{WithHTTPClient(ts.Client())}, opts...)
	return New(opts...), host
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		want    string
		wantErr bool
	}{
		{name: "hostname", host: "school.example", want: "https://school.example"},
		{name: "with port", host: "127.0.0.1:8443", want: "https://127.0.0.1:8443"},
		{name: "empty", host: "", wantErr: true},
		{name: "path", host: "school.example/login", wantErr: true},
		{name: "query", host: "school.example?x=1", wantErr: true},
		{name: "scheme", host: "https://school.example", wantErr: true},
		{name: "space", host: "school example", wantErr: true},
		{name: "userinfo", host: "user@school.example", wantErr: true},
		{name: "padded", host: " school.example", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := BaseURL(tt.host)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestBlackbaudExchange(t *testing.T) {
	client, host := newPortal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/blackbaud/sso", r.URL.Path)
		assert.Equal(t, "a+b c", r.URL.Query().Get("sso_token"))
		_, _ = io.WriteString(w, loginPage)
	}))

	sess, err := client.Blackbaud(context.Background(), host, "a+b c")
	require.NoError(t, err)
	assert.Equal(t, Session{BaseURL: "https://" + host, Token: "tok-123", ContactID: 42}, sess)
	assert.True(t, sess.Valid())
	assert.Equal(t, host, sess.Host())
}

func TestDirectUsesTokenEndpoint(t *testing.T) {
	var hits atomic.Int32
	client, host := newPortal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/blackbaud/sso", r.URL.Path)
		assert.Equal(t, "direct-token", r.URL.Query().Get("sso_token"))
		_, _ = io.WriteString(w, loginPage)
	}))

	sess, err := client.Direct(context.Background(), host, "direct-token")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", sess.Token)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSAMLExchange(t *testing.T) {
	client, host := newPortal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/samlACS", r.URL.Path)
		assert.Equal(t, formdata.ContentType, r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "PHNhbWw+dGVzdDwvc2FtbD4=", formdata.Decode(body)["SAMLResponse"])
		_, _ = io.WriteString(w, loginPage)
	}))

	sess, err := client.SAML(context.Background(), host, "PHNhbWw+dGVzdDwvc2FtbD4=")
	require.NoError(t, err)
	assert.Equal(t, 42, sess.ContactID)
}

func TestExchangeFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		notErr  error
	}{
		{name: "user not found", body: `var tokenID = "-1";`, wantErr: extract.ErrUserNotFound, notErr: ErrExtract},
		{name: "unknown", body: `var tokenID = "-2";`, wantErr: extract.ErrUnknown, notErr: ErrExtract},
		{name: "missing token", body: `<html>maintenance</html>`, wantErr: ErrExtract},
		{name: "bad matrix", body: `var tokenID = 'x'; var matrix = '"nope"';`, wantErr: extract.ErrDecode},
		{name: "invalid utf8", body: "\xff\xfe", wantErr: ErrDecode},
		{name: "server error", status: http.StatusBadGateway, body: loginPage, wantErr: ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, host := newPortal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := client.Blackbaud(context.Background(), host, "t")
			require.ErrorIs(t, err, tt.wantErr)
			if tt.notErr != nil {
				assert.NotErrorIs(t, err, tt.notErr)
			}
		})
	}
}

func TestExchangeInvalidHost(t *testing.T) {
	client := New()
	_, err := client.SAML(context.Background(), "bad host/", "x")
	require.ErrorIs(t, err, ErrInvalidHost)
}

func TestExchangeTransportError(t *testing.T) {
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	host := strings.TrimPrefix(ts.URL, "https://")
	ts.Close()

	client := New()
	_, err := client.Direct(context.Background(), host, "t")
	require.ErrorIs(t, err, ErrTransport)
}

func TestMetadata(t *testing.T) {
	tests := []struct {
		name  string
		site  map[string]any
		check func(t *testing.T, m Metadata)
	}{
		{
			name: "all methods",
			site: map[string]any{
				"baseURL":             "school.example",
				"schoolName":          "Example School",
				"loginBkg":            "https://cdn.example/bg.png",
				"schoolEmblem":        "not a url",
				"hideManualLogin":     "0",
				"fpLink":              "https://school.example/forgot",
				"samlm":               "1",
				"samlLabel":           "Staff login",
				"samlIDPURL":          "https://idp.example/sso",
				"blackbaudSSOEnabled": "1",
				"bbLabel":             "Parents",
				"blackbaudSSOURL":     "https://app.blackbaud.example/sso",
			},
			check: func(t *testing.T, m Metadata) {
				assert.Equal(t, "Example School", m.SchoolName)
				assert.Equal(t, "school.example", m.ReachDomain)
				assert.Equal(t, "https://cdn.example/bg.png", m.LoginBackground)
				assert.Empty(t, m.SchoolEmblem)
				require.NotNil(t, m.Direct)
				assert.Equal(t, "https://school.example/forgot", m.Direct.ForgotPasswordLink)
				require.NotNil(t, m.SAML)
				assert.Equal(t, SAMLLogin{IdPURL: "https://idp.example/sso", Label: "Staff login"}, *m.SAML)
				require.NotNil(t, m.Blackbaud)
				assert.Equal(t, "Parents", m.Blackbaud.Label)
			},
		},
		{
			name: "direct hidden and sso disabled",
			site: map[string]any{
				"baseURL":             "school.example",
				"schoolName":          "Example School",
				"hideManualLogin":     "1",
				"fpLink":              "",
				"samlm":               "0",
				"samlIDPURL":          "https://idp.example/sso",
				"samlLabel":           "x",
				"blackbaudSSOEnabled": "0",
			},
			check: func(t *testing.T, m Metadata) {
				assert.Nil(t, m.Direct)
				assert.Nil(t, m.SAML)
				assert.Nil(t, m.Blackbaud)
			},
		},
		{
			name: "enabled without label or url",
			site: map[string]any{
				"baseURL":             "school.example",
				"schoolName":          "Example School",
				"hideManualLogin":     "0",
				"fpLink":              "",
				"samlm":               "1",
				"samlLabel":           "Staff",
				"blackbaudSSOEnabled": "1",
				"blackbaudSSOURL":     "https://app.blackbaud.example/sso",
			},
			check: func(t *testing.T, m Metadata) {
				require.NotNil(t, m.Direct)
				assert.Empty(t, m.Direct.ForgotPasswordLink)
				assert.Nil(t, m.SAML)
				assert.Nil(t, m.Blackbaud)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, host := newPortal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/RenderSite", r.URL.Path)
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, "1", formdata.Decode(body)["data"])
				_ = json.NewEncoder(w).Encode(tt.site)
			}))

			m, err := client.Metadata(context.Background(), host)
			require.NoError(t, err)
			tt.check(t, m)
		})
	}
}

func TestMetadataDecodeError(t *testing.T) {
	client, host := newPortal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	}))

	_, err := client.Metadata(context.Background(), host)
	require.ErrorIs(t, err, ErrDecode)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	l := newHostRateLimiter(0.001, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.wait(ctx, "a.example"))
	err := l.wait(ctx, "a.example")
	require.Error(t, err)

	// Other hosts have their own budget.
	require.NoError(t, l.wait(context.Background(), "b.example"))
}

func TestRateLimiterEvictsOldest(t *testing.T) {
	l := newHostRateLimiter(10, 1)
	l.maxSize = 2

	l.getLimiter("a")
	time.Sleep(time.Millisecond)
	l.getLimiter("b")
	l.getLimiter("c")

	assert.Len(t, l.limiters, 2)
	assert.NotContains(t, l.limiters, "a")
}

func TestNilRateLimiter(t *testing.T) {
	var l *hostRateLimiter
	assert.NoError(t, l.wait(context.Background(), "x"))
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestErrorClassesAreDistinct(t *testing.T) {
	classes := []error{ErrInvalidHost, ErrTransport, ErrDecode, ErrExtract}
	for i, a := range classes {
		others := append(append([]error{}, classes[:i]...), classes[i+1:]...)
		assert.False(t, errorsIsAny(a, others...), fmt.Sprintf("%v overlaps another class", a))
	}
}
