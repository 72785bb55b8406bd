package commands

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/authstate"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/authtest"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/sessionstore"
)

var carol = models.UserProfile{
	ID:          "u-7",
	Email:       "carol@example.com",
	Name:        "Carol",
	Role:        models.RoleAdmin,
	Department:  "Support",
	Permissions: []string{"reports:read", "users:manage"},
}

type testEnv struct {
	srv     *authtest.Server
	globals *Globals
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := authtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("carol@example.com", "hunter2", carol)
	srv.Handle("GET /api/reports/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		fmt.Fprintf(w, `{"owner":%q,"unread":3}`, authtest.UserFromRequest(r).Email)
	})

	env := &testEnv{
		srv:    srv,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	env.globals = &Globals{
		Server:  srv.URL,
		Profile: "default",
		Home:    t.TempDir(),
		Stdin:   strings.NewReader(""),
		Stdout:  env.stdout,
		Stderr:  env.stderr,
	}
	return env
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	cmd := &LoginCmd{Identifier: "carol@example.com", Secret: "hunter2"}
	require.NoError(t, cmd.Run(context.Background(), e.globals))
}

func (e *testEnv) snapshot(t *testing.T) sessionstore.Record {
	t.Helper()
	store, err := e.globals.openStore()
	require.NoError(t, err)
	return store.Snapshot()
}

func TestYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: https://dash.example.com\nprofile: work\n"), 0600))

	var cli struct {
		Server  string `default:"https://localhost:8443"`
		Profile string `default:"default"`
		Debug   bool
	}
	parser, err := kong.New(&cli, kong.Configuration(YAMLConfig, path))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"--debug"})
	require.NoError(t, err)

	assert.Equal(t, "https://dash.example.com", cli.Server)
	assert.Equal(t, "work", cli.Profile)
	assert.True(t, cli.Debug)
}

func TestYAMLConfig_Invalid(t *testing.T) {
	_, err := YAMLConfig(strings.NewReader("server: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestYAMLConfig_Empty(t *testing.T) {
	_, err := YAMLConfig(strings.NewReader(""))
	require.NoError(t, err)
}

func TestGlobals_ProfileDir(t *testing.T) {
	g := &Globals{Home: "/tmp/emaildash", Profile: "work"}
	dir, err := g.ProfileDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/emaildash", "profiles", "work"), dir)

	g.Profile = "../escape"
	_, err = g.ProfileDir()
	assert.Error(t, err)
}

func TestLoginWhoamiLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.login(t)
	assert.Contains(t, env.stdout.String(), "Logged in as Carol <carol@example.com>")

	rec := env.snapshot(t)
	require.True(t, rec.HasSession())
	assert.WithinDuration(t, time.Now(), rec.LastActivityAt, 5*time.Second)

	env.stdout.Reset()
	require.NoError(t, (&WhoamiCmd{Refresh: true}).Run(ctx, env.globals))
	out := env.stdout.String()
	assert.Contains(t, out, "carol@example.com")
	assert.Contains(t, out, "Support")
	assert.Contains(t, out, "reports:read, users:manage")
	assert.Equal(t, 1, env.srv.Hits("/api/auth/profile"))

	env.stdout.Reset()
	require.NoError(t, (&LogoutCmd{}).Run(ctx, env.globals))
	assert.Contains(t, env.stdout.String(), "Logged out.")
	assert.False(t, env.snapshot(t).HasSession())

	err := (&WhoamiCmd{}).Run(ctx, env.globals)
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestLogin_Rejected(t *testing.T) {
	env := newTestEnv(t)

	err := (&LoginCmd{Identifier: "carol@example.com", Secret: "wrong"}).Run(context.Background(), env.globals)
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", err.Error())
	assert.False(t, env.snapshot(t).HasSession())
}

func TestLogin_SecretFromStdin(t *testing.T) {
	env := newTestEnv(t)
	env.globals.Stdin = strings.NewReader("hunter2\n")

	require.NoError(t, (&LoginCmd{Identifier: "carol@example.com"}).Run(context.Background(), env.globals))
	assert.True(t, env.snapshot(t).HasSession())
}

func TestLogin_ServerUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Close()

	err := (&LoginCmd{Identifier: "carol@example.com", Secret: "hunter2"}).Run(context.Background(), env.globals)
	require.Error(t, err)
	assert.Equal(t, "Unable to reach the server. Please try again.", err.Error())
}

func TestStatus(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name      string
		user      bool
		idle      time.Duration
		wantState string
	}{
		{name: "logged out", wantState: "logged out"},
		{name: "active", user: true, idle: 3 * time.Minute, wantState: "active"},
		{name: "expiring soon", user: true, idle: 27 * time.Minute, wantState: "expiring soon"},
		{name: "timed out", user: true, idle: 45 * time.Minute, wantState: "idle timeout reached"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := sessionstore.New(sessionstore.NewMemoryBackend())
			if tt.user {
				store.SetUser(&carol)
				store.TouchActivity(now.Add(-tt.idle))
				store.StartSession(now.Add(-time.Hour))
			}

			var buf bytes.Buffer
			printStatus(&buf, "default", store.Snapshot(), now)

			out := buf.String()
			assert.Contains(t, out, tt.wantState)
			if tt.user {
				assert.Contains(t, out, "Carol <carol@example.com>")
				assert.Contains(t, out, now.Add(-tt.idle).Add(30*time.Minute).Format(time.RFC3339))
			}
		})
	}
}

func TestStatusCmd_DoesNotTouchActivity(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	before := env.snapshot(t)

	require.NoError(t, (&StatusCmd{}).Run(context.Background(), env.globals))

	assert.Contains(t, env.stdout.String(), "active")
	assert.Equal(t, before, env.snapshot(t))
}

func TestGet(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.stdout.Reset()

	env.srv.FailNext("/api/reports/summary", http.StatusUnauthorized)
	require.NoError(t, (&GetCmd{Path: "/reports/summary"}).Run(context.Background(), env.globals))

	assert.JSONEq(t, `{"owner":"carol@example.com","unread":3}`, strings.TrimSpace(env.stdout.String()))
	assert.Equal(t, 2, env.srv.Hits("/api/reports/summary"))
	assert.True(t, env.snapshot(t).HasSession())
}

func TestGet_RevokedSessionIsCleared(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.srv.RevokeAll()
	err := (&GetCmd{Path: "/reports/summary"}).Run(context.Background(), env.globals)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	assert.False(t, env.snapshot(t).HasSession())
	assert.Contains(t, env.stderr.String(), "emaildash login")
}

func TestShell(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.stdout.Reset()
	env.globals.Stdin = strings.NewReader("help\nwhoami\nextend\nstatus\nget /reports/summary\nbogus\nquit\n")

	require.NoError(t, (&ShellCmd{}).Run(context.Background(), env.globals))

	out := env.stdout.String()
	assert.Contains(t, out, "Signed in as Carol")
	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, "carol@example.com")
	assert.Contains(t, out, "Session extended.")
	assert.Contains(t, out, "Phase: authenticated")
	assert.Contains(t, out, `"unread":3`)
	assert.Contains(t, out, `Unknown command "bogus"`)
	assert.True(t, env.snapshot(t).HasSession())
}

func TestShell_Logout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.stdout.Reset()
	env.globals.Stdin = strings.NewReader("logout\nwhoami\n")

	require.NoError(t, (&ShellCmd{}).Run(context.Background(), env.globals))

	out := env.stdout.String()
	assert.Contains(t, out, "Logged out.")
	assert.NotContains(t, out, "Email:")
	assert.False(t, env.snapshot(t).HasSession())
}

func TestShell_ExpiryBeforeQueuedCommand(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	s, err := env.globals.openSession("/")
	require.NoError(t, err)
	defer s.Close()
	s.coord.Start()

	dir, err := env.globals.ProfileDir()
	require.NoError(t, err)
	backend, err := sessionstore.NewFileBackend(dir)
	require.NoError(t, err)
	stale := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, backend.Set(sessionstore.KeyLastActivityAt, strconv.FormatInt(stale, 10)))

	s.monitor.Check()
	require.Equal(t, authstate.PhaseExpired, s.coord.State().Phase())

	var out bytes.Buffer
	require.NotPanics(t, func() {
		require.NoError(t, s.shell(context.Background(), strings.NewReader("whoami\n"), &out))
	})

	assert.Contains(t, out.String(), "emaildash login")
	assert.NotContains(t, out.String(), "Email:")
	assert.Equal(t, authstate.PhaseUnauthenticated, s.coord.State().Phase())
	assert.False(t, env.snapshot(t).HasSession())
}

func TestPrintUser_NoUser(t *testing.T) {
	var out bytes.Buffer
	require.NotPanics(t, func() { printUser(&out, nil) })
	assert.Equal(t, "Not logged in.\n", out.String())
}

func TestShell_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	err := (&ShellCmd{}).Run(context.Background(), env.globals)
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestNavigator_RedirectOnce(t *testing.T) {
	var buf bytes.Buffer
	nav := &navigator{path: "/reports", out: &buf}

	nav.RedirectToLogin()
	nav.RedirectToLogin()

	assert.True(t, nav.Redirected())
	assert.Equal(t, "/login", nav.CurrentPath())
	assert.Equal(t, 1, strings.Count(buf.String(), "emaildash login"))
}
