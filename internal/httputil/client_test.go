// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client whose sleeps are recorded, not slept.
func newTestClient(ts *httptest.Server, maxRetries int) (*Client, *[]time.Duration) {
	c := NewClient(ts.Client(), maxRetries, nil)
	var waits []time.Duration
	c.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestDo_ImmediateSuccess(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c, waits := newTestClient(ts, 5)
	res := c.Do(context.Background(), get(t, ts.URL), Options{})

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *waits)
}

func TestDo_RetriesThen200(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, waits := newTestClient(ts, 5)
	res := c.Do(context.Background(), get(t, ts.URL), Options{})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
	assert.Equal(t, int64(1000), c.Limiter.State().BackoffMs, "success resets backoff")
	assert.Equal(t, 2, c.Limiter.State().RateLimitHitCount)
}

func TestDo_BackoffGrowth(t *testing.T) {
	for k := 1; k <= 7; k++ {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		// k responses: one initial attempt plus k-1 retries.
		opts := Options{MaxRetries: k - 1}
		if k == 1 {
			opts = Options{NoRetry: true}
		}
		c, _ := newTestClient(ts, 0)
		res := c.Do(context.Background(), get(t, ts.URL), opts)

		want := min(int64(1000)<<k, 30000)
		assert.Equal(t, OutcomeInconclusive, res.Outcome, "k=%d", k)
		assert.Equal(t, k, res.Attempts, "k=%d", k)
		assert.Equal(t, want, c.Limiter.State().BackoffMs, "k=%d", k)
		ts.Close()
	}
}

func TestDo_SuccessResetsBackoff(t *testing.T) {
	var throttle atomic.Bool
	throttle.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if throttle.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, _ := newTestClient(ts, 3)
	res := c.Do(context.Background(), get(t, ts.URL), Options{})
	require.Equal(t, OutcomeInconclusive, res.Outcome)
	require.Equal(t, int64(16000), c.Limiter.State().BackoffMs)

	throttle.Store(false)
	res = c.Do(context.Background(), get(t, ts.URL), Options{})
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(1000), c.Limiter.State().BackoffMs)
}

func TestDo_RetryAfterOverridesBackoff(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, waits := newTestClient(ts, 5)
	res := c.Do(context.Background(), get(t, ts.URL), Options{})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []time.Duration{7 * time.Second}, *waits)
}

func TestDo_ServerErrorExhaustsToFailure(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c, _ := newTestClient(ts, 2)
	res := c.Do(context.Background(), get(t, ts.URL), Options{})

	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Zero(t, c.Limiter.State().RateLimitHitCount)
}

func TestDo_ClientErrorPassesThrough(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c, _ := newTestClient(ts, 5)
	res := c.Do(context.Background(), get(t, ts.URL), Options{})
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	res = c.Do(context.Background(), get(t, ts.URL), Options{ExpectFailure: true})
	assert.Equal(t, OutcomeSuccess, res.Outcome, "expected failure counts as success")
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDo_ErrorsAreRedacted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c, _ := newTestClient(ts, 1)
	res := c.Do(context.Background(), get(t, ts.URL+"/api/v1/thing?apikey=supersecret"), Options{})

	require.Error(t, res.Err)
	assert.NotContains(t, res.Err.Error(), "supersecret")
	assert.NotContains(t, res.Err.Error(), "127.0.0.1")
}

func TestDo_ContextTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c, _ := newTestClient(ts, 1)
	res := c.Do(ctx, get(t, ts.URL), Options{})

	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.True(t, res.TimedOut)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestDo_ReplaysBody(t *testing.T) {
	var calls int32
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader([]byte(`{"name":"x"}`)))
	require.NoError(t, err)

	c, _ := newTestClient(ts, 3)
	res := c.Do(context.Background(), req, Options{})

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{`{"name":"x"}`, `{"name":"x"}`}, bodies)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("60", now)
	assert.True(t, ok)
	assert.Equal(t, 60*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter(strings.Repeat("x", 3), now)
	assert.False(t, ok)
}
