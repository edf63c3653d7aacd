// Package auth sequences portal logins.
//
// An Orchestrator resolves a portal's metadata, runs the selected login
// method, exchanges the recovered credential for a session and records the
// session in the store. It is the only place errors are turned into
// messages for users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/al-bashkir/reachable/internal/attempt"
	"github.com/al-bashkir/reachable/internal/browser"
	"github.com/al-bashkir/reachable/internal/logsanitize"
	"github.com/al-bashkir/reachable/internal/portal"
	"github.com/al-bashkir/reachable/internal/sso"
	"github.com/al-bashkir/reachable/internal/store"
)

var (
	ErrMethodDisabled   = errors.New("login method is not enabled for this portal")
	ErrTokenRequired    = errors.New("login token is required")
	ErrIncomplete       = errors.New("login did not complete")
	ErrSuperseded       = errors.New("login attempt was superseded")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrUnknownLocation  = errors.New("unknown location")
	ErrLocationRejected = errors.New("portal did not accept the location")
)

const defaultAttemptTimeout = 10 * time.Minute

// Exchanger turns login credentials into a portal session.
type Exchanger interface {
	Direct(ctx context.Context, host, token string) (portal.Session, error)
	SAML(ctx context.Context, host, samlResponse string) (portal.Session, error)
	Blackbaud(ctx context.Context, host, ssoToken string) (portal.Session, error)
}

// SchoolClient reads and updates school data on a portal.
type SchoolClient interface {
	Metadata(ctx context.Context, host string) (portal.Metadata, error)
	SchoolConfig(ctx context.Context, sess portal.Session) (*portal.SchoolConfig, error)
	UserContact(ctx context.Context, sess portal.Session) (*portal.Contact, error)
	SetLocation(ctx context.Context, sess portal.Session, locationID int, requestID *int) (bool, error)
	Search(ctx context.Context, query string) ([]portal.School, error)
}

// Portal is everything the Orchestrator needs from the portal backend.
// *portal.Client implements it.
type Portal interface {
	Exchanger
	SchoolClient
}

// HostFactory returns a fresh browser host for one redirect login.
type HostFactory func(provider sso.Provider) (sso.Host, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHostFactory sets how browser hosts are created. The default is a
// headless HTTP host.
func WithHostFactory(f HostFactory) Option {
	return func(o *Orchestrator) {
		o.newHost = f
	}
}

// WithAttempts shares an attempt manager. The caller owns its lifetime.
func WithAttempts(m *attempt.Manager) Option {
	return func(o *Orchestrator) {
		o.attempts = m
	}
}

// WithAttemptTimeout sets how long a login attempt may run before it is
// abandoned. Ignored when WithAttempts is used.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.attemptTimeout = d
	}
}

// WithRefreshOnLogin controls whether school data is fetched right after a
// successful login. It is on by default.
func WithRefreshOnLogin(enabled bool) Option {
	return func(o *Orchestrator) {
		o.refreshOnLogin = enabled
	}
}

// Orchestrator drives logins against one store. Logins may run
// concurrently; only the most recent attempt may record its session.
type Orchestrator struct {
	portal Portal
	store  *store.Store

	newHost        HostFactory
	attempts       *attempt.Manager
	ownsAttempts   bool
	attemptTimeout time.Duration
	refreshOnLogin bool
}

// New returns an Orchestrator that records sessions in st.
func New(p Portal, st *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		portal:         p,
		store:          st,
		newHost:        headlessHost,
		attemptTimeout: defaultAttemptTimeout,
		refreshOnLogin: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.attempts == nil {
		o.attempts = attempt.NewManager(o.attemptTimeout)
		o.ownsAttempts = true
	}
	return o
}

func headlessHost(sso.Provider) (sso.Host, error) {
	return browser.NewHTTPHost()
}

// Close releases the attempt manager if the Orchestrator created it.
func (o *Orchestrator) Close() {
	if o.ownsAttempts {
		o.attempts.Stop()
	}
}

// Store returns the store sessions are recorded in.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Metadata fetches the portal's public metadata. It is never cached.
func (o *Orchestrator) Metadata(ctx context.Context, host string) (portal.Metadata, error) {
	md, err := o.portal.Metadata(ctx, host)
	if err != nil {
		return portal.Metadata{}, fmt.Errorf("failed to load portal metadata: %w", err)
	}
	return md, nil
}

// Login logs in to host with provider. token is only used by direct login.
func (o *Orchestrator) Login(ctx context.Context, host string, provider sso.Provider, token string) (portal.Session, error) {
	switch provider {
	case sso.ProviderDirect:
		md, err := o.Metadata(ctx, host)
		if err != nil {
			return portal.Session{}, err
		}
		if md.Direct == nil {
			return portal.Session{}, fmt.Errorf("%w: %s", ErrMethodDisabled, provider)
		}
		return o.LoginDirect(ctx, host, token)
	case sso.ProviderSAML, sso.ProviderBlackbaud:
		return o.LoginSSO(ctx, host, provider)
	default:
		return portal.Session{}, fmt.Errorf("%w: %q", sso.ErrUnknownProvider, provider)
	}
}

// LoginDirect exchanges a token obtained elsewhere for a session.
func (o *Orchestrator) LoginDirect(ctx context.Context, host, token string) (portal.Session, error) {
	if token == "" {
		return portal.Session{}, ErrTokenRequired
	}

	a := o.attempts.Begin(host, sso.ProviderDirect.String())
	defer o.attempts.Delete(a.ID)

	if !o.attempts.MarkResultWritten(a.ID) {
		return portal.Session{}, ErrSuperseded
	}
	return o.exchange(ctx, a, func() (portal.Session, error) {
		return o.portal.Direct(ctx, host, token)
	})
}

// LoginSSO runs the redirect flow for provider in a browser host and
// exchanges the artifact it recovers. At most one artifact is exchanged per
// attempt and the host is stopped as soon as the flow has ended.
func (o *Orchestrator) LoginSSO(ctx context.Context, host string, provider sso.Provider) (portal.Session, error) {
	md, err := o.Metadata(ctx, host)
	if err != nil {
		return portal.Session{}, err
	}
	entry, err := entryURL(md, provider)
	if err != nil {
		return portal.Session{}, err
	}

	base, err := portal.BaseURL(host)
	if err != nil {
		return portal.Session{}, err
	}
	flow, err := sso.NewFlow(provider, base.Host, entry)
	if err != nil {
		return portal.Session{}, fmt.Errorf("failed to start %s login: %w", provider, err)
	}

	a := o.attempts.Begin(host, provider.String())
	defer o.attempts.Delete(a.ID)

	slog.Info("starting sso login",
		"attempt_id", a.ID,
		"host", logsanitize.Sanitize(host),
		"provider", provider,
	)

	artifact, err := o.runFlow(ctx, flow)
	if err != nil {
		return portal.Session{}, err
	}

	if !o.attempts.MarkResultWritten(a.ID) {
		slog.Info("discarding result of superseded login", "attempt_id", a.ID)
		return portal.Session{}, ErrSuperseded
	}

	return o.exchange(ctx, a, func() (portal.Session, error) {
		if provider == sso.ProviderSAML {
			return o.portal.SAML(ctx, host, artifact)
		}
		return o.portal.Blackbaud(ctx, host, artifact)
	})
}

// runFlow runs flow to completion in a new host and returns the artifact.
func (o *Orchestrator) runFlow(ctx context.Context, flow sso.Flow) (string, error) {
	h, err := o.newHost(flow.Provider())
	if err != nil {
		return "", fmt.Errorf("failed to create browser host: %w", err)
	}

	ic := sso.NewInterceptor(flow)
	runErr := h.Run(ctx, flow.InitialURL(), ic)
	h.Stop()

	res, ok := ic.Result()
	if !ok {
		if runErr != nil {
			return "", fmt.Errorf("%w: %w", ErrIncomplete, runErr)
		}
		return "", ErrIncomplete
	}
	if !res.OK() {
		return "", fmt.Errorf("%s login failed: %w", flow.Provider(), res.Err)
	}
	return res.Artifact, nil
}

// exchange performs the credential exchange for a and records the session
// if a is still the current attempt.
func (o *Orchestrator) exchange(ctx context.Context, a attempt.Attempt, fn func() (portal.Session, error)) (portal.Session, error) {
	sess, err := fn()
	if err != nil {
		if errors.Is(err, portal.ErrTransport) || errors.Is(err, portal.ErrExtract) {
			slog.Error("credential exchange failed",
				"attempt_id", a.ID,
				"host", logsanitize.Sanitize(a.Host),
				"error", err,
			)
		}
		return portal.Session{}, err
	}

	if !o.attempts.IsCurrent(a.ID) {
		slog.Info("discarding session of superseded login", "attempt_id", a.ID)
		return portal.Session{}, ErrSuperseded
	}

	o.store.SetSession(sess)
	slog.Info("login succeeded",
		"attempt_id", a.ID,
		"host", logsanitize.Sanitize(sess.Host()),
		"method", a.Method,
		"contact_id", sess.ContactID,
	)

	if o.refreshOnLogin {
		if _, err := o.Refresh(ctx); err != nil {
			slog.Warn("failed to refresh school data after login", "error", err)
		}
	}
	return sess, nil
}

func entryURL(md portal.Metadata, provider sso.Provider) (string, error) {
	var entry string
	switch provider {
	case sso.ProviderSAML:
		if md.SAML != nil {
			entry = md.SAML.IdPURL
		}
	case sso.ProviderBlackbaud:
		if md.Blackbaud != nil {
			entry = md.Blackbaud.SSOURL
		}
	default:
		return "", fmt.Errorf("%w: %q", sso.ErrNoRedirectFlow, provider)
	}
	if entry == "" {
		return "", fmt.Errorf("%w: %s", ErrMethodDisabled, provider)
	}
	return entry, nil
}

// Logout forgets the session and the data cached for it.
func (o *Orchestrator) Logout() {
	o.store.ClearSession()
	slog.Info("logged out")
}

// Refresh fetches the school configuration and the signed-in user's
// contact in parallel and caches both in the store.
func (o *Orchestrator) Refresh(ctx context.Context) (store.Envelope, error) {
	sess, ok := o.store.Session()
	if !ok {
		return store.Envelope{}, ErrNotLoggedIn
	}

	var (
		cfg     *portal.SchoolConfig
		contact *portal.Contact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cfg, err = o.portal.SchoolConfig(gctx, sess)
		return err
	})
	g.Go(func() error {
		var err error
		contact, err = o.portal.UserContact(gctx, sess)
		return err
	})
	if err := g.Wait(); err != nil {
		return store.Envelope{}, fmt.Errorf("failed to refresh school data: %w", err)
	}

	var stale bool
	env := o.store.Update(func(e *store.Envelope) {
		if e.Auth == nil || *e.Auth != sess {
			stale = true
			return
		}
		e.SchoolConfig = cfg
		e.UserContact = contact
	})
	if stale {
		return env, ErrSuperseded
	}
	return env, nil
}

// SetLocation reports the user's current location to the portal.
func (o *Orchestrator) SetLocation(ctx context.Context, locationID int) error {
	env := o.store.Snapshot()
	if env.Auth == nil {
		return ErrNotLoggedIn
	}
	if env.SchoolConfig != nil {
		if _, ok := env.SchoolConfig.Location(locationID); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownLocation, locationID)
		}
	}

	done, err := o.portal.SetLocation(ctx, *env.Auth, locationID, nil)
	if err != nil {
		return fmt.Errorf("failed to set location: %w", err)
	}
	if !done {
		return ErrLocationRejected
	}
	slog.Info("location set", "location_id", locationID)
	return nil
}

// ToggleFavorite flips locationID in the favorite locations and reports
// whether it is now a favorite.
func (o *Orchestrator) ToggleFavorite(locationID int) bool {
	return o.store.ToggleFavorite(locationID)
}

// Search looks up schools by name.
func (o *Orchestrator) Search(ctx context.Context, query string) ([]portal.School, error) {
	schools, err := o.portal.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search schools: %w", err)
	}
	return schools, nil
}
