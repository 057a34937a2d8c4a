// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the rate-limited HTTP client shared by the
// gates and the drift sentinel.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pdiddy/plugin-e2e/internal/redact"
)

const (
	defaultMaxRetries = 5
	maxBodyBytes      = 8 << 20
)

// Outcome classifies a finished request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"

	// OutcomeInconclusive means rate limiting outlasted the retry budget,
	// so the call says nothing about the product under test.
	OutcomeInconclusive Outcome = "inconclusive"
)

// Options tune a single call.
type Options struct {
	// ExpectFailure treats 400, 401, and 403 as success. Probes that send
	// deliberately bad requests use it.
	ExpectFailure bool

	// MaxRetries overrides the client's retry budget when positive.
	MaxRetries int

	// NoRetry returns the first response as-is, whatever its status.
	NoRetry bool
}

// Result is the outcome of Client.Do. Body is fully read; the response
// body is already closed.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	RetryAfter string
	TimedOut   bool
	Err        error
}

// OK reports whether the outcome is success.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Client wraps an http.Client with exponential backoff on 429 and 5xx.
type Client struct {
	HTTP       *http.Client
	Limiter    *Limiter
	MaxRetries int
	Logger     *slog.Logger

	// Sleep waits between attempts. Tests replace it to avoid real sleeps.
	Sleep func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// NewClient returns a Client with its own Limiter.
func NewClient(hc *http.Client, maxRetries int, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		HTTP:       hc,
		Limiter:    NewLimiter(),
		MaxRetries: maxRetries,
		Logger:     logger,
		Sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Do executes req, retrying on 429 and 5xx. On each throttled response the
// limiter's backoff doubles (1s, 2s, 4s, ... capped at 30s) and the client
// waits that long, or exactly as long as a Retry-After header says. When
// the budget runs out a 429 yields OutcomeInconclusive and a 5xx yields
// OutcomeFailure. Any success resets the backoff to the baseline.
//
// Requests with a body must set GetBody (http.NewRequest does for the
// standard readers) so the body can be replayed.
func (c *Client) Do(ctx context.Context, req *http.Request, opts Options) Result {
	maxRetries := c.MaxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if opts.NoRetry {
		maxRetries = 0
	}
	now := c.now
	if now == nil {
		now = time.Now
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	endpoint := redact.URL(req.URL.String())

	var res Result
	for attempt := 0; ; attempt++ {
		res = Result{Attempts: attempt + 1}

		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			res.Outcome = OutcomeFailure
			res.Err = err
			return res
		}

		c.Limiter.markRequest(now())
		resp, err := c.HTTP.Do(attemptReq)
		if err != nil {
			res.Outcome = OutcomeFailure
			res.TimedOut = isTimeout(err)
			res.Err = fmt.Errorf("%s %s: %s", req.Method, endpoint, redact.Text(err.Error()))
			if res.TimedOut {
				res.Err = fmt.Errorf("%w: %w", res.Err, context.DeadlineExceeded)
			}
			return res
		}

		res.StatusCode = resp.StatusCode
		res.Header = resp.Header
		res.RetryAfter = resp.Header.Get("Retry-After")
		res.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			res.Outcome = OutcomeFailure
			res.TimedOut = isTimeout(err)
			res.Err = fmt.Errorf("reading %s: %s", endpoint, redact.Text(err.Error()))
			return res
		}

		status := resp.StatusCode
		switch {
		case opts.ExpectFailure && (status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden):
			c.Limiter.RecordSuccess()
			res.Outcome = OutcomeSuccess
			return res

		case status < 400:
			c.Limiter.RecordSuccess()
			res.Outcome = OutcomeSuccess
			return res

		case status == http.StatusTooManyRequests || status >= 500:
			rateLimited := status == http.StatusTooManyRequests
			backoff := c.Limiter.RecordThrottle(rateLimited)
			if attempt >= maxRetries {
				if rateLimited {
					res.Outcome = OutcomeInconclusive
					res.Err = fmt.Errorf("%s %s: rate limited after %d attempts", req.Method, endpoint, res.Attempts)
				} else {
					res.Outcome = OutcomeFailure
					res.Err = fmt.Errorf("%s %s: HTTP %d after %d attempts", req.Method, endpoint, status, res.Attempts)
				}
				return res
			}

			wait := backoff
			if d, ok := ParseRetryAfter(res.RetryAfter, now()); ok {
				wait = d
			}
			c.Logger.Debug("retrying throttled request",
				"method", req.Method, "endpoint", endpoint, "status", status,
				"wait", wait, "attempt", attempt+1, "maxRetries", maxRetries)

			if err := sleep(ctx, wait); err != nil {
				res.Outcome = OutcomeFailure
				res.TimedOut = errors.Is(err, context.DeadlineExceeded)
				res.Err = fmt.Errorf("%s %s: waiting to retry: %w", req.Method, endpoint, err)
				return res
			}

		default:
			res.Outcome = OutcomeFailure
			res.Err = fmt.Errorf("%s %s: HTTP %d", req.Method, endpoint, status)
			return res
		}
	}
}

// ParseRetryAfter reads a Retry-After value in seconds or HTTP-date form.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request to %s has a body but no GetBody", redact.URL(req.URL.String()))
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
