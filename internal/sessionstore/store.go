// Package sessionstore persists the local session record of one profile.
//
// The record holds the cached user profile and the activity timestamps the
// idle monitor works from. It never holds the authentication credential.
// Presence of the cached user is the only local signal that a session exists.
//
// Storage failures never surface to callers: reads degrade to "absent" and
// writes become no-ops, because "no session" is the safe default.
package sessionstore

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
)

// Persisted keys. These must stay stable across releases.
const (
	KeyCachedUser          = "emaildash.cachedUser"
	KeyLastActivityAt      = "emaildash.lastActivityAt"
	KeySessionStartAt      = "emaildash.sessionStartAt"
	KeyWarningAcknowledged = "emaildash.warningAcknowledged"
)

var allKeys = []string{KeyCachedUser, KeyLastActivityAt, KeySessionStartAt, KeyWarningAcknowledged}

// Record is a point-in-time view of the persisted fields.
type Record struct {
	CachedUser          *models.UserProfile
	LastActivityAt      time.Time // zero when absent
	SessionStartAt      time.Time // zero when absent
	WarningAcknowledged bool
}

// HasSession reports whether the record represents a session.
func (r Record) HasSession() bool {
	return r.CachedUser != nil
}

// Store gives synchronous access to the session record fields.
type Store struct {
	backend Backend

	// mu makes each individual read or write atomic within this process.
	mu sync.Mutex
}

// New creates a store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// SetUser writes the cached user. Timestamps are not touched.
func (s *Store) SetUser(user *models.UserProfile) {
	if user == nil {
		return
	}

	data, err := json.Marshal(user)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode cached user")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(KeyCachedUser, string(data))
}

// GetUser returns the cached user or nil.
func (s *Store) GetUser() *models.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser()
}

// HasSession reports whether a cached user is present.
func (s *Store) HasSession() bool {
	return s.GetUser() != nil
}

// ClearAll removes every field. Clearing an empty store is a no-op.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(allKeys...); err != nil {
		log.Warn().Err(err).Msg("failed to clear session record")
	}
}

// TouchActivity records an interaction at now and clears the warning
// acknowledgement. It does nothing when no session exists. The stored
// timestamp never moves backwards.
func (s *Store) TouchActivity(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getUser() == nil {
		return
	}

	if last, ok := s.getTime(KeyLastActivityAt); !ok || now.After(last) {
		s.set(KeyLastActivityAt, formatTime(now))
	}
	s.del(KeyWarningAcknowledged)
}

// StartSession stamps the session start time. Only meaningful with a cached user.
func (s *Store) StartSession(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getUser() == nil {
		return
	}
	s.set(KeySessionStartAt, formatTime(now))
}

// MarkWarningAcknowledged records that the warning was surfaced for the
// current idle window.
func (s *Store) MarkWarningAcknowledged() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getUser() == nil {
		return
	}
	s.set(KeyWarningAcknowledged, "true")
}

// WarningAcknowledged reports whether the warning was already surfaced.
func (s *Store) WarningAcknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.get(KeyWarningAcknowledged)
	return ok && v == "true"
}

// LastActivity returns the last recorded interaction time.
func (s *Store) LastActivity() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTime(KeyLastActivityAt)
}

// SessionStart returns the time the session was started.
func (s *Store) SessionStart() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTime(KeySessionStartAt)
}

// TimeSinceLastActivity returns the idle duration at now. It reports false
// when there is no session or no valid timestamp.
func (s *Store) TimeSinceLastActivity(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getUser() == nil {
		return 0, false
	}
	last, ok := s.getTime(KeyLastActivityAt)
	if !ok {
		return 0, false
	}
	return now.Sub(last), true
}

// Snapshot reads every field. Time fields are zeroed when no session exists.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{CachedUser: s.getUser()}
	if rec.CachedUser == nil {
		return rec
	}

	rec.LastActivityAt, _ = s.getTime(KeyLastActivityAt)
	rec.SessionStartAt, _ = s.getTime(KeySessionStartAt)
	v, ok := s.get(KeyWarningAcknowledged)
	rec.WarningAcknowledged = ok && v == "true"
	return rec
}

func (s *Store) getUser() *models.UserProfile {
	raw, ok := s.get(KeyCachedUser)
	if !ok || raw == "" {
		return nil
	}

	var user models.UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable cached user")
		return nil
	}
	return &user
}

func (s *Store) getTime(key string) (time.Time, bool) {
	raw, ok := s.get(key)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		log.Debug().Str("key", key).Str("value", raw).Msg("ignoring invalid timestamp")
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Store) get(key string) (string, bool) {
	v, ok, err := s.backend.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session storage read failed")
		return "", false
	}
	return v, ok
}

func (s *Store) set(key, value string) {
	if err := s.backend.Set(key, value); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session storage write failed")
	}
}

func (s *Store) del(key string) {
	if err := s.backend.Delete(key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session storage delete failed")
	}
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
