// Package app wires the configured components of reachable together.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/al-bashkir/reachable/internal/auth"
	"github.com/al-bashkir/reachable/internal/browser"
	"github.com/al-bashkir/reachable/internal/config"
	"github.com/al-bashkir/reachable/internal/portal"
	"github.com/al-bashkir/reachable/internal/sso"
	"github.com/al-bashkir/reachable/internal/store"
)

// App holds the components a command works with.
type App struct {
	cfg    *config.Config
	opts   options
	client *portal.Client
	store  *store.Store
	auth   *auth.Orchestrator
}

type options struct {
	httpClient  *http.Client
	in          io.Reader
	out         io.Writer
	openURL     func(string) error
	interactive bool
	formValues  map[string]string
}

// Option configures an App.
type Option func(*options)

// WithHTTPClient sets the client used for portal calls and headless logins.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithConsole sets where the interactive browser host reads pasted input
// and writes prompts.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(o *options) {
		o.in = in
		o.out = out
	}
}

// WithBrowserOpen overrides how the interactive host opens URLs.
func WithBrowserOpen(openURL func(string) error) Option {
	return func(o *options) {
		o.openURL = openURL
	}
}

// WithInteractive forces the interactive browser host regardless of config.
func WithInteractive(enabled bool) Option {
	return func(o *options) {
		o.interactive = enabled
	}
}

// WithFormValues supplies values for identity provider login forms filled
// by the headless host.
func WithFormValues(values map[string]string) Option {
	return func(o *options) {
		o.formValues = values
	}
}

// New creates an App with all components initialized.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{in: os.Stdin, out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Browser.Mode == config.BrowserInteractive {
		o.interactive = true
	}

	storePath, err := cfg.StorePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}
	st := store.Open(storePath)

	slog.Debug("store opened", "path", storePath)

	portalOpts := cfg.PortalOptions()
	if o.httpClient != nil {
		portalOpts = append(portalOpts, portal.WithHTTPClient(o.httpClient))
	}
	client := portal.New(portalOpts...)

	a := &App{
		cfg:    cfg,
		opts:   o,
		client: client,
		store:  st,
	}
	a.auth = auth.New(client, st,
		auth.WithHostFactory(a.newHost),
		auth.WithAttemptTimeout(cfg.LoginTimeout(o.interactive)),
	)
	return a, nil
}

// newHost creates the browser host for one redirect login.
func (a *App) newHost(provider sso.Provider) (sso.Host, error) {
	if a.opts.interactive {
		var hostOpts []browser.InteractiveOption
		if a.opts.openURL != nil {
			hostOpts = append(hostOpts, browser.WithBrowserOpen(a.opts.openURL))
		}
		slog.Debug("using interactive browser host", "provider", provider)
		return browser.NewInteractiveHost(a.opts.in, a.opts.out, hostOpts...), nil
	}

	hostOpts := []browser.HTTPOption{
		browser.WithMaxHops(a.cfg.Browser.MaxHops),
		browser.WithUserAgent(a.cfg.Portal.UserAgent),
	}
	if len(a.opts.formValues) > 0 {
		hostOpts = append(hostOpts, browser.WithFormValues(a.opts.formValues))
	}
	if a.opts.httpClient != nil && a.opts.httpClient.Transport != nil {
		hostOpts = append(hostOpts, browser.WithTransport(a.opts.httpClient.Transport))
	}
	slog.Debug("using headless browser host", "provider", provider)
	return browser.NewHTTPHost(hostOpts...)
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Auth returns the login orchestrator.
func (a *App) Auth() *auth.Orchestrator { return a.auth }

// Store returns the session store.
func (a *App) Store() *store.Store { return a.store }

// Close releases background resources.
func (a *App) Close() {
	a.auth.Close()
}

// Context returns a context bounded by the configured request timeout.
func (a *App) Context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.Timeout())
}

// LoginContext returns a context bounded by the login timeout of the host
// this App uses.
func (a *App) LoginContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.LoginTimeout(a.opts.interactive))
}

// Watch reports store changes made by other processes to onChange and
// blocks until a shutdown signal is received or ctx is done.
func (a *App) Watch(ctx context.Context, onChange func(store.Envelope)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.store.Watch(ctx, onChange)
	}()

	// Wait for shutdown signal or watcher failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("store watch failed: %w", err)
		}
		return nil
	}
}
