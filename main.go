package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/term"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/storefront-cli/gateway"
	"github.com/go-authgate/storefront-cli/storefront"
	"github.com/go-authgate/storefront-cli/tui"
)

// Upper bound for a whole subcommand, refresh and replays included.
const commandTimeout = 60 * time.Second

// app wires the gateway and the storefront services for one CLI run.
type app struct {
	d   tui.Displayer
	jar http.CookieJar
	log *slog.Logger

	api      *gateway.Client
	auth     *storefront.AuthService
	products *storefront.ProductService
	admin    *storefront.AdminService

	restored bool
	expired  atomic.Bool
}

func newApp(d tui.Displayer, transport gateway.Doer, jar http.CookieJar, logger *slog.Logger) *app {
	refresher := gateway.NewEndpointRefresher(apiURL, transport)
	api := gateway.New(
		apiURL,
		transport,
		refresher,
		gateway.WithLogger(logger),
		gateway.WithRefreshTimeout(refreshTimeout),
	)

	auth := storefront.NewAuthService(
		apiURL, api, api, refresher,
		storefront.WithRefreshTimeout(refreshTimeout),
	)

	a := &app{
		d:        d,
		jar:      jar,
		log:      logger,
		api:      api,
		auth:     auth,
		products: storefront.NewProductService(api),
		admin:    storefront.NewAdminService(api),
	}
	api.OnSessionExpired(a.sessionExpired)
	return a
}

// sessionExpired reports a failed refresh once per run. The saved session is
// kept: the refresh may have failed for reasons other than a revoked cookie,
// see run.
func (a *app) sessionExpired() {
	if !a.expired.CompareAndSwap(false, true) {
		return
	}
	a.d.SessionExpired()
}

// restoreSession installs the saved refresh cookie into the jar.
func (a *app) restoreSession() bool {
	storage, err := loadSession()
	if err != nil {
		if !errors.Is(err, errNoSession) {
			a.log.Warn("failed to load session", "file", sessionFile, "error", err)
		}
		return false
	}
	if err := storage.install(a.jar); err != nil {
		a.log.Warn("failed to restore session", "error", err)
		return false
	}
	a.restored = true
	return true
}

// persistSession saves the refresh cookie currently in the jar; the API may
// have rotated it during the run.
func (a *app) persistSession(ctx context.Context) {
	if a.expired.Load() {
		return
	}
	storage, err := sessionFromJar(a.jar, apiURL)
	if err != nil {
		return
	}
	if err := saveSession(ctx, storage); err != nil {
		a.d.SessionSaveFailed(err)
		return
	}
	a.log.Debug("session saved", "file", sessionFile)
}

// forgetSession drops the saved session after the API rejected it.
func (a *app) forgetSession(ctx context.Context) {
	a.expired.Store(true)
	if err := deleteSession(ctx); err != nil {
		a.log.Warn("failed to delete session", "error", err)
	}
}

// newHTTPClient returns the TLS-hardened client shared by the gateway and the
// refresher. Its cookie jar carries the refresh cookie.
func newHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// isTTY reports whether stderr is an interactive terminal.
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func main() {
	initConfig()

	logger := newLogger(os.Stderr, logLevel)
	slog.SetDefault(logger)

	baseHTTPClient, err := newHTTPClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create HTTP client: %v\n", err)
		os.Exit(1)
	}

	// Wrap with retry logic using go-httpretry
	transport, err := newTransport(baseHTTPClient, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create retry client: %v\n", err)
		os.Exit(1)
	}

	if isTTY() {
		// The TUI owns stderr; diagnostics would corrupt it.
		logger = newLogger(os.Stderr, "error")
		slog.SetDefault(logger)

		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(newApp(d, transport, baseHTTPClient.Jar, logger), flag.Args())
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(newApp(d, transport, baseHTTPClient.Jar, logger), flag.Args()); err != nil {
			os.Exit(1)
		}
	}
}

// run executes one subcommand, or the default session demo when args is empty.
func run(a *app, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	if len(args) == 0 {
		err = a.runDemo(ctx)
	} else {
		err = a.dispatch(ctx, args[0], args[1:])
	}
	if err != nil {
		// Only a rejected refresh cookie ends the saved session; outages and
		// timeouts leave it for the next run.
		if a.restored && errors.Is(err, gateway.ErrRefreshTokenExpired) {
			a.forgetSession(context.WithoutCancel(ctx))
		}
		a.d.Fatal(err)
	}
	return err
}

// runDemo mirrors the storefront start-up: restore the session, load the
// profile, then the first catalogue page.
func (a *app) runDemo(ctx context.Context) error {
	if a.restoreSession() {
		a.d.SessionFound()
		a.d.Refreshing()

		user, err := a.auth.CheckAuth(ctx)
		switch {
		case err != nil:
			a.d.RefreshFailed(err)
			if errors.Is(err, gateway.ErrRefreshTokenExpired) {
				a.forgetSession(ctx)
				a.d.LoginRequired(a.auth.LoginURL())
			}
		default:
			a.d.RefreshOK(tokenLifetime(a.api.Token()))
			a.d.ProfileLoaded(user.Name, user.Email, user.Role)
			a.persistSession(ctx)
		}
	} else {
		a.d.SessionNotFound()
		a.d.LoginRequired(a.auth.LoginURL())
	}

	list, err := a.products.List(ctx, storefront.ListOptions{})
	if err != nil {
		a.d.APICallFailed(err)
	} else {
		a.d.ProductsLoaded(productPage(list))
	}

	a.done()
	return nil
}

// done reports the in-memory session, if any.
func (a *app) done() {
	token := a.api.Token()
	if token == "" {
		a.d.Done("", "", 0)
		return
	}
	preview := token
	if len(preview) > 50 {
		preview = preview[:50]
	}
	a.d.Done(preview, gateway.TokenSubject(token), tokenLifetime(token))
}

// tokenLifetime is the time left before the access token's exp claim.
func tokenLifetime(token string) time.Duration {
	exp, ok := gateway.TokenExpiry(token)
	if !ok {
		return 0
	}
	return max(time.Until(exp), 0).Round(time.Second)
}

func productPage(list *storefront.ProductList) tui.ProductPage {
	page := tui.ProductPage{
		Page:  list.Page,
		Pages: list.Pages,
		Total: list.Total,
		Rows:  make([]tui.ProductRow, 0, len(list.Items)),
	}
	for _, p := range list.Items {
		page.Rows = append(page.Rows, tui.ProductRow{
			ID:        p.ID,
			Title:     p.Title,
			Price:     storefront.FormatPrice(p.Price),
			Stock:     p.Stock,
			Available: p.Available(),
		})
	}
	return page
}
