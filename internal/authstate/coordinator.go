// Package authstate is the single source of truth for who is logged in.
//
// The Coordinator adopts a cached user optimistically at start, drives the
// idle monitor, reconciles local belief with the backend through profile
// refreshes and applies the bounded recovery policy to 401 responses.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/activity"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/client"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/sessionstore"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/telemetry"
)

const tracerName = "github.com/tushar-growexxer/EmailDashboard-sub000/internal/authstate"

// ErrSessionExpired is returned by RefreshProfile while the expired overlay
// is waiting for acknowledgment.
var ErrSessionExpired = errors.New("session expired")

// AuthAPI is the backend authentication surface.
type AuthAPI interface {
	Login(ctx context.Context, identifier, secret string) (*client.LoginResult, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*models.UserProfile, error)
}

var _ AuthAPI = (*client.Client)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNavigator sets where forced logouts redirect to.
func WithNavigator(n Navigator) Option {
	return func(c *Coordinator) {
		c.navigator = n
	}
}

// WithOnClear registers a hook run after every local session clear.
func WithOnClear(fn func()) Option {
	return func(c *Coordinator) {
		c.onClear = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator owns the session lifecycle of one running application.
type Coordinator struct {
	api       AuthAPI
	store     *sessionstore.Store
	monitor   *activity.Monitor
	navigator Navigator
	onClear   func()
	now       func() time.Time

	id      string
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	refresh singleflight.Group

	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSub     int
}

// New creates a coordinator in the Initializing phase. Call Start to adopt
// the persisted session.
func New(api AuthAPI, store *sessionstore.Store, monitor *activity.Monitor, opts ...Option) *Coordinator {
	id := uuid.Must(uuid.NewV7()).String()

	c := &Coordinator{
		api:         api,
		store:       store,
		monitor:     monitor,
		navigator:   noopNavigator{},
		now:         time.Now,
		id:          id,
		logger:      log.With().Str("coordinator", id).Logger(),
		tracer:      otel.Tracer(tracerName),
		metrics:     telemetry.GetMetrics(),
		state:       State{IsLoading: true},
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID identifies this coordinator in logs.
func (c *Coordinator) ID() string {
	return c.id
}

// Start leaves Initializing. A cached user is adopted without asking the
// backend; request-level 401 recovery handles a stale cache.
func (c *Coordinator) Start() {
	user := c.store.GetUser()
	if user == nil {
		c.logger.Debug().Msg("no cached session")
		c.setState(State{})
		return
	}

	c.logger.Info().Str("user", user.Email).Msg("adopted cached session")
	c.monitor.Init(c.handleWarning, c.handleExpired)
	c.setState(State{User: user, IsAuthenticated: true})
}

// State returns a snapshot of the exposed session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn for every state change. The returned function
// removes it.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Login exchanges credentials. On success the profile is cached and the
// idle window restarts. On failure the current state is left as is.
func (c *Coordinator) Login(ctx context.Context, identifier, secret string) LoginResult {
	ctx, span := c.tracer.Start(ctx, "authstate.Login")
	defer span.End()

	res, err := c.api.Login(ctx, identifier, secret)
	if err != nil {
		c.logger.Warn().Err(err).Msg("login request failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "network failure")
		telemetry.RecordResult(ctx, c.metrics.LoginsTotal, false)
		return LoginResult{Message: MsgNetworkFailure}
	}

	if !res.Success || res.User == nil {
		msg := res.Message
		if msg == "" {
			msg = MsgLoginFailed
		}
		c.logger.Info().Str("message", msg).Msg("login rejected")
		span.SetStatus(codes.Error, "rejected")
		telemetry.RecordResult(ctx, c.metrics.LoginsTotal, false)
		return LoginResult{Message: msg}
	}

	user := res.User.Clone()
	c.store.SetUser(user)
	c.monitor.Init(c.handleWarning, c.handleExpired)
	c.setState(State{User: user, IsAuthenticated: true})

	span.SetAttributes(attribute.String("user.id", user.ID))
	telemetry.RecordResult(ctx, c.metrics.LoginsTotal, true)
	c.logger.Info().Str("user", user.Email).Msg("logged in")

	return LoginResult{Success: true, User: user.Clone()}
}

// Logout invalidates the credential on the backend and clears local state.
// Local clearing happens whether or not the backend call succeeds.
func (c *Coordinator) Logout(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "authstate.Logout")
	defer span.End()

	if err := c.api.Logout(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		span.RecordError(err)
	}

	c.clearLocal()
	c.setState(State{})
	c.metrics.LogoutsTotal.Add(ctx, 1)
	c.logger.Info().Msg("logged out")
}

// RefreshProfile fetches the current profile. Success updates the cached
// user and counts as activity. Failure leaves state unchanged; the error is
// informational.
func (c *Coordinator) RefreshProfile(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "authstate.RefreshProfile")
	defer span.End()

	if c.State().Phase() == PhaseExpired {
		return ErrSessionExpired
	}

	user, err := c.api.Profile(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		telemetry.RecordResult(ctx, c.metrics.ProfileRefreshesTotal, false)
		c.logger.Debug().Err(err).Msg("profile refresh failed")
		return fmt.Errorf("failed to refresh profile: %w", err)
	}

	hadSession := c.store.HasSession()
	c.store.SetUser(user)
	if hadSession && c.monitor.Running() {
		c.monitor.Extend()
	} else {
		c.monitor.Init(c.handleWarning, c.handleExpired)
	}

	c.setState(State{User: user.Clone(), IsAuthenticated: true})
	telemetry.RecordResult(ctx, c.metrics.ProfileRefreshesTotal, true)
	c.logger.Debug().Str("user", user.Email).Msg("profile refreshed")

	return nil
}

// ExtendSession dismisses the idle warning and re-stamps activity without
// contacting the backend.
func (c *Coordinator) ExtendSession() {
	c.mu.Lock()
	if c.state.User == nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.monitor.Extend()

	c.update(func(s *State) {
		if s.SessionWarning != nil && !s.SessionWarning.Expired {
			s.SessionWarning = nil
		}
	})
	c.logger.Debug().Msg("session extended")
}

// AcknowledgeExpiry dismisses the expired overlay.
func (c *Coordinator) AcknowledgeExpiry() {
	c.update(func(s *State) {
		if s.SessionWarning != nil && s.SessionWarning.Expired {
			s.SessionWarning = nil
		}
	})
}

// Close stops the idle monitor.
func (c *Coordinator) Close() {
	c.monitor.Cleanup()
}

func (c *Coordinator) handleWarning(minutesLeft int) {
	// Every warning is announced, even one identical to the last.
	notified := c.mutate(func(s *State) bool {
		if s.User == nil {
			return false
		}
		s.SessionWarning = &SessionWarning{
			Show:        true,
			MinutesLeft: minutesLeft,
			Message:     WarningMessage(minutesLeft),
		}
		return true
	})
	if !notified {
		return
	}

	c.metrics.SessionWarningsTotal.Add(context.Background(), 1)
	c.logger.Info().Int("minutes_left", minutesLeft).Msg("session idle warning")
}

// handleExpired is a local-only expiry: the backend credential lapses on
// its own or is rejected on next use.
func (c *Coordinator) handleExpired() {
	ctx := context.Background()

	if started, ok := c.store.SessionStart(); ok {
		c.metrics.SessionDurationAtExpiry.Record(ctx, c.now().Sub(started).Seconds())
	}

	c.clearLocal()
	c.setState(State{SessionWarning: &SessionWarning{
		Show:    true,
		Expired: true,
		Message: MsgSessionExpired,
	}})

	c.metrics.SessionExpiriesTotal.Add(ctx, 1)
	c.logger.Info().Msg("session expired due to inactivity")
}

// clearLocal drops every local trace of the session.
func (c *Coordinator) clearLocal() {
	c.monitor.Cleanup()
	c.store.ClearAll()
	if c.onClear != nil {
		c.onClear()
	}
}

func (c *Coordinator) setState(s State) {
	c.update(func(cur *State) {
		*cur = s
	})
}

// update applies fn under the lock and notifies subscribers when the
// exposed state changed.
func (c *Coordinator) update(fn func(*State)) bool {
	return c.mutate(func(s *State) bool {
		fn(s)
		return false
	})
}

// mutate is update where fn may force a notification.
func (c *Coordinator) mutate(fn func(*State) bool) bool {
	c.mu.Lock()
	before := c.state.clone()
	force := fn(&c.state)
	c.state.IsAuthenticated = c.state.User != nil
	after := c.state.clone()
	subs := make([]func(State), 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	if !force && !changed(before, after) {
		return false
	}
	for _, sub := range subs {
		sub(after.clone())
	}
	return true
}

func changed(a, b State) bool {
	if a.Phase() != b.Phase() || a.IsLoading != b.IsLoading {
		return true
	}
	if (a.User == nil) != (b.User == nil) {
		return true
	}
	if a.User != nil && (a.User.ID != b.User.ID || a.User.Email != b.User.Email || a.User.Name != b.User.Name || a.User.Role != b.User.Role) {
		return true
	}
	if (a.SessionWarning == nil) != (b.SessionWarning == nil) {
		return true
	}
	return a.SessionWarning != nil && *a.SessionWarning != *b.SessionWarning
}
