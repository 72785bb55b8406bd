package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/logger"
	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/models"
)

var (
	// ErrUnauthorized is returned when the backend rejects the credential cookie.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidResponse is returned when a response body cannot be decoded.
	ErrInvalidResponse = errors.New("invalid response")
)

// APIError is a non-2xx response other than 401.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Config holds common client configuration
type Config struct {
	ServerURL string
	// APIPrefix is prepended to every endpoint path.
	APIPrefix string
	// ProfileDir holds the cookie jar and response cache. Empty keeps both in memory.
	ProfileDir string
	Timeout    time.Duration
	// MaxTries bounds attempts for idempotent requests failing at the transport.
	MaxTries uint
	Debug    bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "https://localhost:8443",
		APIPrefix: "/api",
		Timeout:   30 * time.Second,
		MaxTries:  3,
	}
}

// LoginResult is the outcome of a credential exchange the server answered.
type LoginResult struct {
	Success bool
	User    *models.UserProfile
	Message string
}

type envelope struct {
	Success bool                `json:"success"`
	User    *models.UserProfile `json:"user,omitempty"`
	Message string              `json:"message,omitempty"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// Client talks to the dashboard backend's authentication endpoints.
//
// It never inspects the credential cookie; the jar carries it.
type Client struct {
	base      *url.URL
	timeout   time.Duration
	jar       *PersistentJar
	cache     *PurgeableCache
	transport http.RoundTripper
	http      *http.Client
}

// New creates a client with the cookie jar and transport stack for cfg.
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/") + cfg.APIPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server URL scheme %q", base.Scheme)
	}

	jarPath, cacheDir := "", ""
	if cfg.ProfileDir != "" {
		jarPath = filepath.Join(cfg.ProfileDir, "cookies.json")
		cacheDir = filepath.Join(cfg.ProfileDir, "cache")
	}

	jar, err := NewPersistentJar(jarPath)
	if err != nil {
		return nil, err
	}

	cache := NewPurgeableCache(cacheDir)

	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = 1
	}

	var transport http.RoundTripper = NewCachingTransport(cache, http.DefaultTransport)
	transport = NewRetryTransport(transport, maxTries)
	transport = logger.NewHTTPRequests(log.Logger).Wrap(transport)

	log.Debug().
		Str("base", base.String()).
		Str("profile", cfg.ProfileDir).
		Msg("initialized backend client")

	return &Client{
		base:      base,
		timeout:   cfg.Timeout,
		jar:       jar,
		cache:     cache,
		transport: transport,
		http: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Endpoint resolves an API path such as "/reports/summary".
func (c *Client) Endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// NewAPIClient returns an http.Client for dashboard endpoints sharing the
// cookie jar and transport stack. wrap may decorate the transport, e.g. with
// unauthorized-response recovery.
func (c *Client) NewAPIClient(wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	transport := c.transport
	if wrap != nil {
		transport = wrap(transport)
	}
	return &http.Client{
		Jar:       c.jar,
		Transport: transport,
		Timeout:   c.timeout,
	}
}

// Jar returns the profile's cookie jar.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// Purge drops every cached response.
func (c *Client) Purge() {
	c.cache.Purge()
}

// Login exchanges credentials. A rejection the server answered is returned as
// an unsuccessful result; only transport and decoding failures are errors.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	body, err := json.Marshal(loginRequest{Identifier: identifier, Secret: secret})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}

	status, env, err := c.do(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}

	if status >= 200 && status < 300 && env.Success && env.User != nil {
		return &LoginResult{Success: true, User: env.User}, nil
	}

	log.Debug().Int("status", status).Str("message", env.Message).Msg("login rejected")

	return &LoginResult{Success: false, Message: env.Message}, nil
}

// Logout asks the backend to clear the credential cookie.
func (c *Client) Logout(ctx context.Context) error {
	status, env, err := c.do(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if status < 200 || status >= 300 {
		return &APIError{StatusCode: status, Message: env.Message}
	}
	return nil
}

// Profile fetches the current user. It returns ErrUnauthorized when the
// credential is absent or expired.
func (c *Client) Profile(ctx context.Context) (*models.UserProfile, error) {
	status, env, err := c.do(ctx, http.MethodGet, "/auth/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	if status == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{StatusCode: status, Message: env.Message}
	}
	if !env.Success || env.User == nil {
		return nil, &APIError{StatusCode: status, Message: env.Message}
	}
	return env.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint(path), reader)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("Accept", "application/json")
	// Auth endpoints always reach the backend, never the response cache.
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, envelope{}, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			// Error bodies are not always JSON; keep the status.
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp.StatusCode, envelope{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
			}
		}
	}

	return resp.StatusCode, env, nil
}
