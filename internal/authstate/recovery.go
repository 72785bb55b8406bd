package authstate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tushar-growexxer/EmailDashboard-sub000/internal/telemetry"
)

const (
	refreshKey     = "profile"
	refreshTimeout = 30 * time.Second
)

// RecoverUnauthorized applies the 401 policy and reports whether the
// failed request should be retried:
//
//  1. On an auth entry point nothing happens.
//  2. With a cached user, one profile refresh is attempted; success means
//     the 401 was transient.
//  3. Otherwise the local session is cleared and the navigator is sent to
//     the login entry point.
//
// Concurrent callers share one in-flight refresh.
func (c *Coordinator) RecoverUnauthorized(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "authstate.RecoverUnauthorized")
	defer span.End()

	path := c.navigator.CurrentPath()
	if IsAuthEntryPoint(path) {
		c.logger.Debug().Str("path", path).Msg("401 on auth entry point, leaving it to the flow")
		span.SetAttributes(attribute.String("outcome", telemetry.RecoverySkipped))
		telemetry.RecordRecovery(ctx, telemetry.RecoverySkipped)
		return false
	}

	if c.store.HasSession() {
		// The shared refresh outlives any one caller's cancellation.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		_, err, shared := c.refresh.Do(refreshKey, func() (any, error) {
			return nil, c.RefreshProfile(refreshCtx)
		})
		if err == nil {
			c.logger.Info().Bool("shared", shared).Msg("recovered from transient 401")
			span.SetAttributes(attribute.String("outcome", telemetry.RecoveryRetried))
			telemetry.RecordRecovery(ctx, telemetry.RecoveryRetried)
			return true
		}
		if ctx.Err() != nil {
			c.logger.Debug().Err(ctx.Err()).Msg("request cancelled during 401 recovery, keeping session")
			span.SetAttributes(attribute.String("outcome", telemetry.RecoverySkipped))
			telemetry.RecordRecovery(ctx, telemetry.RecoverySkipped)
			return false
		}
		c.logger.Info().Err(err).Msg("profile refresh after 401 failed")
	}

	c.forceLogout()
	span.SetAttributes(attribute.String("outcome", telemetry.RecoveryCleared))
	telemetry.RecordRecovery(ctx, telemetry.RecoveryCleared)
	return false
}

func (c *Coordinator) forceLogout() {
	c.clearLocal()
	c.setState(State{})
	c.logger.Info().Msg("session cleared after unauthorized response")
	c.navigator.RedirectToLogin()
}

// Transport wraps next with 401 recovery. A request that recovery deems
// transient is replayed exactly once, with cookies re-read from jar so a
// rotated credential is used. jar may be nil.
func (c *Coordinator) Transport(next http.RoundTripper, jar http.CookieJar) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &recoveryTransport{c: c, next: next, jar: jar}
}

type recoveryTransport struct {
	c    *Coordinator
	next http.RoundTripper
	jar  http.CookieJar
}

func (t *recoveryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.next.RoundTrip(withBody(req, body))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if !t.c.RecoverUnauthorized(req.Context()) {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retry := withBody(req, body)
	if t.jar != nil {
		retry.Header.Del("Cookie")
		for _, cookie := range t.jar.Cookies(req.URL) {
			retry.AddCookie(cookie)
		}
	}

	t.c.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("retrying request after 401 recovery")

	return t.next.RoundTrip(retry)
}

// bufferBody reads and closes the request body so it can be sent twice.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return data, nil
}

func withBody(req *http.Request, body []byte) *http.Request {
	out := req.Clone(req.Context())
	switch {
	case body != nil:
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	case req.Body != nil:
		out.Body = http.NoBody
		out.GetBody = nil
	}
	return out
}
