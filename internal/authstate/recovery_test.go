package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/activity"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/authtest"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/client"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/sessionstore"
)

const summaryPath = "/api/reports/summary"

type backendFixture struct {
	srv    *authtest.Server
	client *client.Client
	store  *sessionstore.Store
	nav    *fakeNavigator
	coord  *Coordinator
	api    *http.Client
	purges int
}

func newBackendFixture(t *testing.T) *backendFixture {
	t.Helper()

	srv := authtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser("alice@example.com", "s3cret", alice)
	srv.Handle("GET "+summaryPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(map[string]any{"owner": authtest.UserFromRequest(r).Email, "replies": 12})
	})
	srv.Handle("POST /api/reports/export", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
	})

	cfg := client.DefaultConfig()
	cfg.ServerURL = srv.URL
	cfg.Timeout = 5 * time.Second
	cl, err := client.New(cfg)
	require.NoError(t, err)

	f := &backendFixture{
		srv:    srv,
		client: cl,
		store:  sessionstore.New(sessionstore.NewMemoryBackend()),
		nav:    &fakeNavigator{path: "/dashboard"},
	}
	monitor := activity.NewMonitor(f.store, activity.NewEventBus())
	f.coord = New(cl, f.store, monitor,
		WithNavigator(f.nav),
		WithOnClear(func() {
			f.purges++
			cl.Purge()
		}),
	)
	t.Cleanup(f.coord.Close)
	f.api = cl.NewAPIClient(func(next http.RoundTripper) http.RoundTripper {
		return f.coord.Transport(next, cl.Jar())
	})

	f.coord.Start()
	return f
}

func (f *backendFixture) login(t *testing.T) {
	t.Helper()
	res := f.coord.Login(context.Background(), "alice@example.com", "s3cret")
	require.True(t, res.Success, res.Message)
}

func (f *backendFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := f.api.Get(f.client.Endpoint(strings.TrimPrefix(path, "/api")))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRecovery_TransientUnauthorizedIsRetriedOnce(t *testing.T) {
	f := newBackendFixture(t)
	f.login(t)

	f.srv.FailNext(summaryPath, http.StatusUnauthorized)
	resp := f.get(t, summaryPath)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, f.srv.Hits(summaryPath))
	assert.Equal(t, 1, f.srv.Hits("/api/auth/profile"))

	state := f.coord.State()
	assert.Equal(t, PhaseAuthenticated, state.Phase())
	assert.Equal(t, &alice, state.User)
	assert.Zero(t, f.nav.Redirects())
}

func TestRecovery_RetryHappensOnlyOnce(t *testing.T) {
	f := newBackendFixture(t)
	f.login(t)

	f.srv.FailNext(summaryPath, http.StatusUnauthorized, http.StatusUnauthorized)
	resp := f.get(t, summaryPath)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 2, f.srv.Hits(summaryPath))
	assert.Equal(t, PhaseAuthenticated, f.coord.State().Phase(), "the refresh succeeded")
}

func TestRecovery_RevokedCredentialClearsSession(t *testing.T) {
	f := newBackendFixture(t)
	f.login(t)

	f.srv.RevokeAll()
	resp := f.get(t, summaryPath)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, f.srv.Hits(summaryPath))
	assert.Equal(t, 1, f.srv.Hits("/api/auth/profile"))

	state := f.coord.State()
	assert.Equal(t, PhaseUnauthenticated, state.Phase())
	assert.Nil(t, state.SessionWarning)
	assert.Equal(t, sessionstore.Record{}, f.store.Snapshot())
	assert.Equal(t, 1, f.nav.Redirects())
	assert.Equal(t, 1, f.purges)
}

func TestRecovery_NoCachedUserRedirectsWithoutRefresh(t *testing.T) {
	f := newBackendFixture(t)

	resp := f.get(t, summaryPath)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.srv.Hits("/api/auth/profile"))
	assert.Equal(t, 1, f.nav.Redirects())
}

func TestRecovery_AuthEntryPointIsLeftAlone(t *testing.T) {
	f := newBackendFixture(t)
	f.login(t)
	f.nav.path = "/oauth/callback?code=abc"

	f.srv.FailNext(summaryPath, http.StatusUnauthorized)
	resp := f.get(t, summaryPath)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.srv.Hits("/api/auth/profile"))
	assert.Equal(t, PhaseAuthenticated, f.coord.State().Phase())
	assert.Zero(t, f.nav.Redirects())
}

func TestRecovery_ReplaysRequestBody(t *testing.T) {
	f := newBackendFixture(t)
	f.login(t)

	f.srv.FailNext("/api/reports/export", http.StatusUnauthorized)
	resp, err := f.api.Post(f.client.Endpoint("/reports/export"), "application/json", strings.NewReader(`{"format":"csv"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"format":"csv"}`, string(body))
	assert.Equal(t, 2, f.srv.Hits("/api/reports/export"))
}

func TestRecovery_OtherStatusesPassThrough(t *testing.T) {
	f := newBackendFixture(t)
	f.login(t)

	f.srv.FailNext(summaryPath, http.StatusForbidden)
	resp := f.get(t, summaryPath)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, f.srv.Hits("/api/auth/profile"))
	assert.Equal(t, PhaseAuthenticated, f.coord.State().Phase())
}

func TestRecoverUnauthorized_ConcurrentCallersAllRecover(t *testing.T) {
	f := loggedIn(t)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coord.RecoverUnauthorized(context.Background())
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	assert.LessOrEqual(t, f.api.profileCalls, len(results))
	assert.Equal(t, PhaseAuthenticated, f.coord.State().Phase())
}

func TestRecoverUnauthorized_RefreshFailureClears(t *testing.T) {
	f := loggedIn(t)
	f.api.profileErr = errors.New("dial tcp: connection refused")

	assert.False(t, f.coord.RecoverUnauthorized(context.Background()))
	assert.Equal(t, PhaseUnauthenticated, f.coord.State().Phase())
	assert.Nil(t, f.store.GetUser())
	assert.Equal(t, 1, f.nav.Redirects())
	assert.Equal(t, 1, f.Clears())
}

func TestRecoverUnauthorized_CancelledCallerDoesNotClearForOthers(t *testing.T) {
	f := loggedIn(t)

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	f.api.mu.Lock()
	f.api.profileGate = gate
	f.api.profileStarted = started
	f.api.mu.Unlock()

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	firstDone := make(chan bool, 1)
	go func() { firstDone <- f.coord.RecoverUnauthorized(first) }()
	<-started

	secondDone := make(chan bool, 1)
	go func() { secondDone <- f.coord.RecoverUnauthorized(context.Background()) }()

	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	assert.True(t, <-secondDone)
	<-firstDone

	assert.Equal(t, PhaseAuthenticated, f.coord.State().Phase())
	assert.True(t, f.store.HasSession())
	assert.Zero(t, f.nav.Redirects())
	assert.Zero(t, f.Clears())
}

func TestRecoverUnauthorized_CancelledCallerKeepsSession(t *testing.T) {
	f := loggedIn(t)
	f.api.profileErr = errors.New("dial tcp: connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, f.coord.RecoverUnauthorized(ctx))
	assert.Equal(t, PhaseAuthenticated, f.coord.State().Phase())
	assert.True(t, f.store.HasSession())
	assert.Zero(t, f.nav.Redirects())
	assert.Zero(t, f.Clears())
}

func TestIsAuthEntryPoint(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "/login", want: true},
		{path: "/login?next=/reports", want: true},
		{path: "/auth/callback", want: true},
		{path: "/oauth/callback/google", want: true},
		{path: "/onboarding/step-2", want: true},
		{path: "/loginx", want: false},
		{path: "/dashboard", want: false},
		{path: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthEntryPoint(tt.path))
		})
	}
}
