// Package authtest provides an in-process fake of the dashboard's
// authentication backend for tests.
//
// It issues an HS256 JWT in an HttpOnly cookie on login, validates it on
// every protected route and answers 401 when it is missing, expired or revoked.
package authtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
)

// CookieName is the credential cookie the fake backend sets.
const CookieName = "emaildash_token"

type account struct {
	secret string
	user   models.UserProfile
}

type claims struct {
	jwt.RegisteredClaims
	Generation int `json:"gen"`
}

// Server is a fake backend. The zero value is not usable; call NewServer.
type Server struct {
	*httptest.Server

	mux        *http.ServeMux
	signingKey []byte
	tokenTTL   time.Duration

	mu         sync.Mutex
	accounts   map[string]account
	generation int
	hits       map[string]int
	failures   map[string][]int
}

// NewServer starts a fake backend. Protected routes added with Handle live
// under /api.
func NewServer() *Server {
	s := &Server{
		signingKey: []byte("authtest-signing-key-0123456789abcdef"),
		tokenTTL:   time.Hour,
		accounts:   make(map[string]account),
		hits:       make(map[string]int),
		failures:   make(map[string][]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.count(s.login))
	mux.HandleFunc("POST /api/auth/logout", s.count(s.logout))
	mux.HandleFunc("GET /api/auth/profile", s.count(s.requireAuth(s.profile)))
	s.mux = mux
	s.Server = httptest.NewServer(mux)

	return s
}

// AddUser registers an account that can log in with identifier and secret.
func (s *Server) AddUser(identifier, secret string, user models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(identifier)] = account{secret: secret, user: user}
}

// Handle registers a protected route, e.g. "GET /api/reports".
func (s *Server) Handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.count(s.requireAuth(h)))
}

// RevokeAll invalidates every issued credential.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// FailNext makes the next requests to path answer with the given statuses,
// in order, before normal handling resumes.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) count(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		var status int
		if queued := s.failures[r.URL.Path]; len(queued) > 0 {
			status = queued[0]
			s.failures[r.URL.Path] = queued[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]any{"success": false, "message": http.StatusText(status)})
			return
		}
		next(w, r)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Secret     string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body"})
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(req.Identifier)]
	generation := s.generation
	s.mu.Unlock()

	if !ok || acct.secret != req.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid email or password"})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(req.Identifier),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		Generation: generation,
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Failed to sign token"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.tokenTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": acct.user})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	user := UserFromRequest(r)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

type userKey struct{}

// UserFromRequest returns the authenticated user inside a protected handler.
func UserFromRequest(r *http.Request) models.UserProfile {
	user, _ := r.Context().Value(userKey{}).(models.UserProfile)
	return user
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Authentication required"})
			return
		}

		var c claims
		_, err = jwt.ParseWithClaims(cookie.Value, &c, func(*jwt.Token) (any, error) {
			return s.signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid or expired token"})
			return
		}

		s.mu.Lock()
		acct, ok := s.accounts[c.Subject]
		revoked := c.Generation != s.generation
		s.mu.Unlock()

		if !ok || revoked {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid or expired token"})
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, acct.user)))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
