package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/activity"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/authstate"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/client"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/logger"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/sessionstore"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/telemetry"
)

var errNotLoggedIn = errors.New("not logged in, run 'emaildash login <email>'")

type Globals struct {
	Debug   bool
	Version string
	Server  string
	Profile string
	Home    string
	Tracing bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Setup configures logging and, when enabled, telemetry export. The
// returned function flushes telemetry.
func (g *Globals) Setup(ctx context.Context) func() {
	log.Logger = logger.Setup(g.Debug)

	if !g.Tracing {
		return func() {}
	}

	log.Debug().Msg("Tracing is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, "emaildash", g.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

// ProfileDir is where the profile's session record, cookies and response
// cache live.
func (g *Globals) ProfileDir() (string, error) {
	home := g.Home
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		home = filepath.Join(userHome, ".emaildash")
	}

	profile := g.Profile
	if profile == "" {
		profile = "default"
	}
	if filepath.Base(profile) != profile {
		return "", fmt.Errorf("invalid profile name %q", profile)
	}

	return filepath.Join(home, "profiles", profile), nil
}

func (g *Globals) openStore() (*sessionstore.Store, error) {
	dir, err := g.ProfileDir()
	if err != nil {
		return nil, err
	}
	backend, err := sessionstore.NewFileBackend(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return sessionstore.New(backend), nil
}

// session is everything one command needs to act on the profile's session.
type session struct {
	client  *client.Client
	store   *sessionstore.Store
	events  *activity.EventBus
	monitor *activity.Monitor
	coord   *authstate.Coordinator
	nav     *navigator
	api     *http.Client
}

// openSession wires the store, monitor, client and coordinator for a
// command whose navigation target is path. The coordinator is not started.
func (g *Globals) openSession(path string) (*session, error) {
	dir, err := g.ProfileDir()
	if err != nil {
		return nil, err
	}

	store, err := g.openStore()
	if err != nil {
		return nil, err
	}

	cfg := client.DefaultConfig()
	cfg.ServerURL = g.Server
	cfg.ProfileDir = dir
	cfg.Debug = g.Debug
	cl, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	events := activity.NewEventBus()
	monitor := activity.NewMonitor(store, events)
	nav := &navigator{path: path, out: g.Stderr}
	coord := authstate.New(cl, store, monitor,
		authstate.WithNavigator(nav),
		authstate.WithOnClear(cl.Purge),
	)

	log.Debug().Str("profile", dir).Str("coordinator", coord.ID()).Msg("session opened")

	return &session{
		client:  cl,
		store:   store,
		events:  events,
		monitor: monitor,
		coord:   coord,
		nav:     nav,
		api: cl.NewAPIClient(func(next http.RoundTripper) http.RoundTripper {
			return coord.Transport(next, cl.Jar())
		}),
	}, nil
}

func (s *session) Close() {
	s.coord.Close()
}

// fetch GETs an API path through the recovering client and copies the body
// to w.
func (s *session) fetch(ctx context.Context, path string, w io.Writer) error {
	s.nav.Navigate(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.Endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.api.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// navigator tracks the command's navigation target. A forced redirect to
// login is a printed instruction.
type navigator struct {
	mu         sync.Mutex
	path       string
	out        io.Writer
	redirected bool
}

func (n *navigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *navigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

func (n *navigator) RedirectToLogin() {
	n.mu.Lock()
	already := n.redirected
	n.redirected = true
	n.path = authstate.LoginPath
	n.mu.Unlock()

	if !already && n.out != nil {
		fmt.Fprintln(n.out, "Your session has ended. Run 'emaildash login <email>' to sign in again.")
	}
}

func (n *navigator) Redirected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.redirected
}
