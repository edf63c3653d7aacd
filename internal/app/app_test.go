package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/reachable/internal/browser"
	"github.com/al-bashkir/reachable/internal/config"
	"github.com/al-bashkir/reachable/internal/portal"
	"github.com/al-bashkir/reachable/internal/sso"
	"github.com/al-bashkir/reachable/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "ReachableInfo", "database.json")
	return cfg
}

func TestNewUsesConfiguredStore(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, cfg.Store.Path, a.Store().Path())
	assert.Same(t, cfg, a.Config())
	assert.NotNil(t, a.Auth())
}

func TestNewHost(t *testing.T) {
	t.Run("headless by default", func(t *testing.T) {
		a, err := New(testConfig(t), WithFormValues(map[string]string{"username": "ada"}))
		require.NoError(t, err)
		defer a.Close()

		h, err := a.newHost(sso.ProviderSAML)
		require.NoError(t, err)
		assert.IsType(t, &browser.HTTPHost{}, h)
	})

	t.Run("interactive from config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Browser.Mode = config.BrowserInteractive

		a, err := New(cfg)
		require.NoError(t, err)
		defer a.Close()

		h, err := a.newHost(sso.ProviderBlackbaud)
		require.NoError(t, err)
		assert.IsType(t, &browser.InteractiveHost{}, h)
	})

	t.Run("interactive from option", func(t *testing.T) {
		var opened []string
		out := &bytes.Buffer{}
		a, err := New(testConfig(t),
			WithInteractive(true),
			WithConsole(strings.NewReader("https://school.example/blackbaud/sso?sso_token=XYZ\n"), out),
			WithBrowserOpen(func(u string) error {
				opened = append(opened, u)
				return nil
			}),
		)
		require.NoError(t, err)
		defer a.Close()

		h, err := a.newHost(sso.ProviderBlackbaud)
		require.NoError(t, err)

		flow, err := sso.NewFlow(sso.ProviderBlackbaud, "school.example", "https://bb.example/sso")
		require.NoError(t, err)
		ic := sso.NewInterceptor(flow)
		require.NoError(t, h.Run(context.Background(), flow.InitialURL(), ic))
		h.Stop()

		res, ok := ic.Result()
		require.True(t, ok)
		assert.Equal(t, "XYZ", res.Artifact)
		assert.Equal(t, []string{"https://bb.example/sso"}, opened)
	})
}

func TestContextUsesTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequestTimeout = 5

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := a.Context()
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
}

func TestLoginContextUsesHostTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.RequestTimeout = 5
	cfg.Browser.InteractiveTimeoutSeconds = 600

	headless, err := New(cfg)
	require.NoError(t, err)
	defer headless.Close()

	ctx, cancel := headless.LoginContext()
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)

	interactive, err := New(cfg, WithInteractive(true))
	require.NoError(t, err)
	defer interactive.Close()

	ctx, cancel = interactive.LoginContext()
	defer cancel()
	deadline, ok = ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), deadline, time.Second)
}

func TestWatch(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan store.Envelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- a.Watch(ctx, func(env store.Envelope) {
			select {
			case changes <- env:
			default:
			}
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	other := store.Open(cfg.Store.Path)
	other.SetSession(portal.Session{BaseURL: "https://school.example", Token: "t", ContactID: 7})

	select {
	case env := <-changes:
		require.NotNil(t, env.Auth)
		assert.Equal(t, 7, env.Auth.ContactID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for store change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
