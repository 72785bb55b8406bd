// Package activity decides from elapsed idle time whether the current
// session should be warned about or expired.
//
// The monitor polls instead of reacting to events: idle time is measured from
// the absence of interactions, and an absence cannot trigger a callback.
// A warning or expiry may therefore lag wall-clock idle time by up to one
// CheckInterval.
package activity

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/sessionstore"
)

// Session timing. These are fixed and not user-configurable.
const (
	// SessionTimeout is the total allowed idle time.
	SessionTimeout = 30 * time.Minute

	// WarningLead is the remaining time at or below which the warning fires.
	WarningLead = 5 * time.Minute

	// CheckInterval is the polling cadence.
	CheckInterval = 1 * time.Minute
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// Monitor tracks interactions into the session store and evaluates idle time
// on a fixed interval.
type Monitor struct {
	store    *sessionstore.Store
	events   EventSource
	now      func() time.Time
	interval time.Duration

	mu          sync.Mutex
	onWarning   func(minutesLeft int)
	onExpired   func()
	unsubscribe func()
	cancel      context.CancelFunc
}

// NewMonitor creates a monitor. It does nothing until Init is called.
func NewMonitor(store *sessionstore.Store, events EventSource, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		events:   events,
		now:      time.Now,
		interval: CheckInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init registers the interaction listeners, starts the ticker if it is not
// running and installs the callbacks. When a session exists it is treated
// as fresh activity, granting a full timeout window.
func (m *Monitor) Init(onWarning func(minutesLeft int), onExpired func()) {
	m.mu.Lock()
	m.onWarning = onWarning
	m.onExpired = onExpired

	if m.unsubscribe == nil && m.events != nil {
		m.unsubscribe = m.events.Subscribe(InteractionKinds, m.handleInteraction)
	}

	if m.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go m.run(ctx, m.interval)
	}
	m.mu.Unlock()

	if m.store.HasSession() {
		now := m.now()
		m.store.TouchActivity(now)
		m.store.StartSession(now)
		log.Debug().Time("at", now).Msg("activity monitor initialized with fresh window")
	}
}

// Running reports whether the ticker is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Extend records a manual activity tick, e.g. "extend session".
func (m *Monitor) Extend() {
	m.store.TouchActivity(m.now())
}

// Cleanup removes the listeners and stops the ticker. It is safe to call
// repeatedly, from a callback, and before Init.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.onWarning = nil
	m.onExpired = nil
}

// Check runs one interval evaluation.
func (m *Monitor) Check() {
	m.mu.Lock()
	onWarning, onExpired := m.onWarning, m.onExpired
	m.mu.Unlock()

	now := m.now()
	elapsed, ok := m.store.TimeSinceLastActivity(now)

	// No session or no usable timestamp fails safe toward expiry.
	if !ok || elapsed >= SessionTimeout {
		log.Info().
			Bool("has_timestamp", ok).
			Dur("idle", elapsed).
			Msg("session idle timeout reached")
		if onExpired != nil {
			onExpired()
		}
		return
	}

	remaining := SessionTimeout - elapsed
	if remaining > WarningLead || m.store.WarningAcknowledged() {
		return
	}

	m.store.MarkWarningAcknowledged()
	minutesLeft := int(math.Ceil(float64(remaining) / float64(time.Minute)))

	log.Info().
		Dur("idle", elapsed).
		Int("minutes_left", minutesLeft).
		Msg("session idle warning")

	if onWarning != nil {
		onWarning(minutesLeft)
	}
}

func (m *Monitor) handleInteraction(kind EventKind) {
	if !m.store.HasSession() {
		return
	}
	m.store.TouchActivity(m.now())
}

func (m *Monitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick racing with Cleanup must not fire callbacks.
			if ctx.Err() != nil {
				return
			}
			m.Check()
		}
	}
}
