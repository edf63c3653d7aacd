package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/al-bashkir/reachable/internal/app"
	"github.com/al-bashkir/reachable/internal/auth"
	"github.com/al-bashkir/reachable/internal/config"
	"github.com/al-bashkir/reachable/internal/portal"
	"github.com/al-bashkir/reachable/internal/sso"
	"github.com/al-bashkir/reachable/internal/store"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	storePath  string
)

// Login flags
var (
	loginMethod      string
	loginToken       string
	loginTokenFile   string
	loginInteractive bool
	loginForm        map[string]string
)

// Exit codes
const (
	ExitSuccess  = 0
	ExitError    = 1
	ExitRejected = 2 // The portal refused the login
	ExitConfig   = 3
)

// Output streams and extra app options, replaced in tests.
var (
	stdout     io.Writer = os.Stdout
	stderr     io.Writer = os.Stderr
	appOptions []app.Option
)

var rootCmd = &cobra.Command{
	Use:   "reachable",
	Short: "Reach school portal session manager",
	Long: `Sign in to a school's Reach portal and keep the session on disk.

Supported login methods:
  - direct:    exchange a token obtained elsewhere
  - saml:      sign in through the school's SAML identity provider
  - blackbaud: sign in through Blackbaud SSO

The session and cached school data are stored in a single JSON file that
other tools on the same machine can read.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// overrideExitCode is set by subcommands (login, check-config) so main() can
// call os.Exit() after cobra finishes.  This avoids calling os.Exit() inside
// RunE which would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var loginCmd = &cobra.Command{
	Use:   "login [host]",
	Short: "Sign in to a school portal",
	Long: `Sign in to the portal at host, or to login.host from the config file.

SAML and Blackbaud logins run in a headless browser that follows redirects
and submits forms it can fill. Values for identity provider login forms can
be given with --form name=value. Use --interactive to finish the login in
your own browser instead.

Exit codes:
  0 = Logged in
  1 = Login failed
  2 = The portal rejected the login`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Long:  `Remove the session and the school data cached for it. Favorite locations are kept.`,
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var methodsCmd = &cobra.Command{
	Use:   "methods <host>",
	Short: "Show the login methods a portal offers",
	Args:  cobra.ExactArgs(1),
	RunE:  runMethods,
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	Aliases: []string{"schools"},
	Short:   "Search the school directory",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSearch,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload school configuration and contact details",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var locationCmd = &cobra.Command{
	Use:   "location <id>",
	Short: "Sign in to a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocation,
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Toggle a favorite location",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavorite,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the session whenever another process changes it",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file.

A missing file is valid and means every setting has its default.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile(),
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "",
		"Path to the session database - overrides config file")

	loginCmd.Flags().StringVarP(&loginMethod, "method", "m", "",
		"Login method (direct, saml, blackbaud) - overrides config file")
	loginCmd.Flags().StringVar(&loginToken, "token", "",
		"Token for direct login")
	loginCmd.Flags().StringVar(&loginTokenFile, "token-file", "",
		"Read the direct login token from a file")
	loginCmd.Flags().BoolVarP(&loginInteractive, "interactive", "i", false,
		"Finish the login in your own browser")
	loginCmd.Flags().StringToStringVar(&loginForm, "form", nil,
		"Identity provider form values (name=value)")

	// Add subcommands
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(locationCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

func defaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "reachable.yaml"
	}
	return filepath.Join(dir, "reachable", "config.yaml")
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}

	// Initialize structured logging based on config
	config.SetupLogging(&cfg.Log)
	return cfg, nil
}

// newApp loads the configuration and builds the App.
func newApp(opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, append(append([]app.Option(nil), appOptions...), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

// fail prints the user-facing message for err and returns a short error
// for cobra.
func fail(what string, err error) error {
	slog.Debug(what+" failed", "error", err)
	return errors.New(auth.Message(err))
}

// runLogin signs in and stores the session
func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(
		app.WithInteractive(loginInteractive),
		app.WithFormValues(loginForm),
	)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.Config()

	host := cfg.Login.Host
	if len(args) > 0 {
		host = strings.TrimSpace(args[0])
	}
	if host == "" {
		return fmt.Errorf("no portal host given and login.host is not set")
	}

	method := cfg.Login.Method
	if loginMethod != "" {
		method = loginMethod
	}
	provider, err := sso.ParseProvider(method)
	if err != nil {
		return err
	}

	token := cfg.Login.Token
	if loginToken != "" {
		token = loginToken
	}
	if loginTokenFile != "" {
		if token, err = auth.ReadTokenFile(loginTokenFile); err != nil {
			return err
		}
	}

	ctx, cancel := a.LoginContext()
	defer cancel()

	sess, err := a.Auth().Login(ctx, host, provider, token)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Login failed: %s\n", auth.Message(err))
		slog.Debug("login failed", "error", err)
		if auth.IsBusiness(err) {
			overrideExitCode = ExitRejected
		} else {
			overrideExitCode = ExitError
		}
		return nil // exit code handled via overrideExitCode
	}

	_, _ = fmt.Fprintf(stdout, "Logged in to %s (contact %d)\n", sess.Host(), sess.ContactID)
	if contact := a.Store().Snapshot().UserContact; contact != nil {
		_, _ = fmt.Fprintf(stdout, "Welcome, %s %s\n", contact.FirstName, contact.LastName)
	}
	return nil
}

// runLogout clears the stored session
func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.Store().Session(); !ok {
		_, _ = fmt.Fprintln(stdout, "Not logged in")
		return nil
	}
	a.Auth().Logout()
	_, _ = fmt.Fprintln(stdout, "Logged out")
	return nil
}

// runStatus prints the stored session
func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	printStatus(stdout, a.Store().Snapshot())
	return nil
}

func printStatus(w io.Writer, env store.Envelope) {
	if env.Auth == nil {
		_, _ = fmt.Fprintln(w, "Not logged in")
	} else {
		_, _ = fmt.Fprintf(w, "Portal:     %s\n", env.Auth.BaseURL)
		_, _ = fmt.Fprintf(w, "Contact ID: %d\n", env.Auth.ContactID)
	}
	if env.SchoolConfig != nil {
		_, _ = fmt.Fprintf(w, "School:     %s\n", env.SchoolConfig.Reach.SchoolName)
	}
	if c := env.UserContact; c != nil {
		_, _ = fmt.Fprintf(w, "Name:       %s %s\n", c.FirstName, c.LastName)
		if c.Email != "" {
			_, _ = fmt.Fprintf(w, "Email:      %s\n", c.Email)
		}
	}
	if favs := env.FavoriteLocations(); len(favs) > 0 {
		_, _ = fmt.Fprintln(w, "Favorites:")
		for _, loc := range favs {
			_, _ = fmt.Fprintf(w, "  %d  %s\n", loc.ID, loc.Name)
		}
	} else if ids := env.AppConfig.FavoriteLocations; len(ids) > 0 {
		_, _ = fmt.Fprintf(w, "Favorites:  %v\n", ids)
	}
}

// runMethods prints the login methods a portal offers
func runMethods(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.Context()
	defer cancel()

	md, err := a.Auth().Metadata(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		return fail("metadata", err)
	}
	printMethods(stdout, md)
	return nil
}

func printMethods(w io.Writer, md portal.Metadata) {
	_, _ = fmt.Fprintf(w, "%s\n", md.SchoolName)
	if md.Direct != nil {
		_, _ = fmt.Fprintln(w, "  direct")
		if md.Direct.ForgotPasswordLink != "" {
			_, _ = fmt.Fprintf(w, "    forgot password: %s\n", md.Direct.ForgotPasswordLink)
		}
	}
	if md.SAML != nil {
		_, _ = fmt.Fprintf(w, "  saml       %s\n", md.SAML.Label)
	}
	if md.Blackbaud != nil {
		_, _ = fmt.Fprintf(w, "  blackbaud  %s\n", md.Blackbaud.Label)
	}
}

// runSearch searches the school directory
func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.Context()
	defer cancel()

	schools, err := a.Auth().Search(ctx, strings.Join(args, " "))
	if err != nil {
		return fail("search", err)
	}
	if len(schools) == 0 {
		_, _ = fmt.Fprintln(stdout, "No schools found")
		return nil
	}
	for _, s := range schools {
		_, _ = fmt.Fprintf(stdout, "%-40s %s\n", s.Name, s.ReachDomain)
	}
	return nil
}

// runRefresh reloads cached school data
func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.Context()
	defer cancel()

	env, err := a.Auth().Refresh(ctx)
	if err != nil {
		return fail("refresh", err)
	}
	printStatus(stdout, env)
	return nil
}

// runLocation reports the user's location
func runLocation(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid location id %q", args[0])
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.Context()
	defer cancel()

	if err := a.Auth().SetLocation(ctx, id); err != nil {
		return fail("set location", err)
	}
	_, _ = fmt.Fprintf(stdout, "Location set to %d\n", id)
	return nil
}

// runFavorite toggles a favorite location
func runFavorite(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid location id %q", args[0])
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Auth().ToggleFavorite(id) {
		_, _ = fmt.Fprintf(stdout, "Location %d added to favorites\n", id)
	} else {
		_, _ = fmt.Fprintf(stdout, "Location %d removed from favorites\n", id)
	}
	return nil
}

// runWatch prints the session each time the store changes on disk
func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	printStatus(stdout, a.Store().Snapshot())
	return a.Watch(context.Background(), func(env store.Envelope) {
		_, _ = fmt.Fprintln(stdout, "---")
		printStatus(stdout, env)
	})
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	_, _ = fmt.Fprintf(stdout, "reachable version %s\n", version)
	_, _ = fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
	_, _ = fmt.Fprintf(stdout, "  Build date: %s\n", buildDate)
	_, _ = fmt.Fprintf(stdout, "  Go version: %s\n", getGoVersion())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	_, _ = fmt.Fprintf(stdout, "Checking configuration: %s\n\n", configFile)

	// Load configuration
	cfg, err := config.LoadOrDefault(configFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Configuration validation failed:\n")
		_, _ = fmt.Fprintf(stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	path, err := cfg.StorePath()
	if err != nil {
		path = "(unavailable: " + err.Error() + ")"
	}

	// Print configuration summary (with secrets redacted)
	r := cfg.Redact()
	_, _ = fmt.Fprintln(stdout, "✅ Configuration is valid")
	_, _ = fmt.Fprintln(stdout)
	_, _ = fmt.Fprintln(stdout, "Configuration summary:")
	_, _ = fmt.Fprintf(stdout, "  Search URL:      %s\n", r.Portal.SearchURL)
	_, _ = fmt.Fprintf(stdout, "  User Agent:      %s\n", r.Portal.UserAgent)
	_, _ = fmt.Fprintf(stdout, "  Rate Limit:      %g/s (burst %d)\n", r.Portal.RequestsPerSecond, r.Portal.Burst)
	_, _ = fmt.Fprintf(stdout, "  Login Host:      %s\n", r.Login.Host)
	_, _ = fmt.Fprintf(stdout, "  Login Method:    %s\n", r.Login.Method)
	_, _ = fmt.Fprintf(stdout, "  Store Path:      %s\n", path)
	_, _ = fmt.Fprintf(stdout, "  Browser Mode:    %s\n", r.Browser.Mode)
	_, _ = fmt.Fprintf(stdout, "  Search Cache:    %d entries, %d seconds\n", r.Search.CacheSize, r.Search.CacheTTLSeconds)
	_, _ = fmt.Fprintf(stdout, "  Request Timeout: %d seconds\n", r.RequestTimeout)
	_, _ = fmt.Fprintf(stdout, "  Log Level:       %s\n", r.Log.Level)
	_, _ = fmt.Fprintf(stdout, "  Log Format:      %s\n", r.Log.Format)

	if r.Login.Token != "" {
		_, _ = fmt.Fprintln(stdout, "\n  Login Token:     [SET]")
	} else {
		_, _ = fmt.Fprintln(stdout, "\n  Login Token:     [NOT SET]")
	}

	return nil
}

// getGoVersion returns the Go version used to build the binary
func getGoVersion() string {
	return runtime.Version()
}
