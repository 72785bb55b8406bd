package client

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// RetryTransport retries idempotent requests that fail before any response
// arrives. It never retries on an HTTP status; authorization failures are
// the session coordinator's concern.
type RetryTransport struct {
	next     http.RoundTripper
	maxTries uint
}

// NewRetryTransport wraps next with at most maxTries attempts.
func NewRetryTransport(next http.RoundTripper, maxTries uint) *RetryTransport {
	return &RetryTransport{next: next, maxTries: maxTries}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.maxTries <= 1 || !replayable(req) {
		return t.next.RoundTrip(req)
	}

	attempt := 0
	operation := func() (*http.Response, error) {
		r := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			r = req.Clone(req.Context())
			r.Body = body
		}
		attempt++

		resp, err := t.next.RoundTrip(r)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, backoff.Permanent(err)
			}
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Msg("transport error, retrying")
			return nil, err
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(req.Context(), operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(t.maxTries),
	)
}

// replayable reports whether req is idempotent and its body can be resent.
func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
