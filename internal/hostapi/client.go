// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package hostapi is a typed client for the host application's v1 REST API:
// component schema and CRUD, connectivity tests, releases, queue, history,
// commands, and system status. Every call carries the API key in the
// X-Api-Key header and goes through the rate-limited httputil.Client.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/plugin-e2e/internal/httputil"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const (
	apiPrefix        = "/api/v1"
	headerAPIKey     = "X-Api-Key"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "plugin-e2e/0.1"
	maxErrorBody     = 512
)

// ErrNotFound is matched by a StatusError for HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrRateLimited is matched by a StatusError whose retries ran out on 429.
var ErrRateLimited = errors.New("rate limited")

// StatusError is a non-success HTTP response. Body and Endpoint are
// redacted.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Outcome    httputil.Outcome
	Body       string
	Failures   []ValidationFailure
	RetryAfter string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Endpoint, e.StatusCode)
	if len(e.Failures) > 0 {
		parts := make([]string, 0, len(e.Failures))
		for _, f := range e.Failures {
			if f.PropertyName != "" {
				parts = append(parts, f.PropertyName+": "+redact.Text(f.ErrorMessage))
			} else {
				parts = append(parts, redact.Text(f.ErrorMessage))
			}
		}
		return msg + ": " + strings.Join(parts, "; ")
	}
	if e.Body != "" {
		return msg + ": " + e.Body
	}
	return msg
}

// Is matches ErrNotFound and ErrRateLimited.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.Outcome == httputil.OutcomeInconclusive
	}
	return false
}

// TimeoutError is a call that hit its deadline.
type TimeoutError struct {
	Method   string
	Endpoint string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.Method, e.Endpoint, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Client talks to one host instance. Each attempt is bounded by the
// configured timeout; backoff waits between attempts are not.
type Client struct {
	base      *url.URL
	apiKey    string
	userAgent string
	timeout   time.Duration
	http      *httputil.Client
}

// New returns a Client for cfg. hc supplies the transport; a nil hc or
// one without a timeout gets cfg's timeout.
func New(cfg types.HostConfig, hc *http.Client, logger *slog.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("host url must not be empty")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid host url %q", redact.URL(raw))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if hc.Timeout == 0 {
		cp := *hc
		cp.Timeout = timeout
		hc = &cp
	}
	return &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		userAgent: ua,
		timeout:   timeout,
		http:      httputil.NewClient(hc, cfg.MaxRetries, logger),
	}, nil
}

// HTTP returns the rate-limited client behind c.
func (c *Client) HTTP() *httputil.Client { return c.http }

// WithAPIKey returns a copy of c that sends key instead. The copy shares
// the rate limiter.
func (c *Client) WithAPIKey(key string) *Client {
	cp := *c
	cp.apiKey = key
	return &cp
}

// Timeout is the per-request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// URL returns the absolute URL for an API path such as "/indexer/schema".
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + apiPrefix + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Raw sends one request and returns the transport-level result without
// turning non-success statuses into errors. Probes that expect a failure
// status use it.
func (c *Client) Raw(ctx context.Context, method, path string, query url.Values, body any, opts httputil.Options) (httputil.Result, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return httputil.Result{}, err
	}
	return c.http.Do(ctx, req, opts), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if rdr != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.URL(path, query), rdr)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.URL(path, query), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %s", method, path, redact.Text(err.Error()))
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends a request and decodes a success body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req, err := c.newRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	res := c.http.Do(ctx, req, httputil.Options{})
	endpoint := redact.PathAndQuery(req.URL.String())

	if res.TimedOut {
		return &TimeoutError{Method: method, Endpoint: endpoint, Timeout: c.timeout, Err: res.Err}
	}
	if res.StatusCode == 0 {
		return fmt.Errorf("%s %s: %w", method, endpoint, res.Err)
	}
	if !res.OK() {
		se := &StatusError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: res.StatusCode,
			Outcome:    res.Outcome,
			RetryAfter: res.RetryAfter,
		}
		var failures []ValidationFailure
		if json.Unmarshal(res.Body, &failures) == nil && len(failures) > 0 {
			se.Failures = failures
		} else {
			se.Body = truncate(redact.Text(strings.TrimSpace(string(res.Body))), maxErrorBody)
		}
		return se
	}
	if out == nil || len(bytes.TrimSpace(res.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, endpoint, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func kindPath(kind types.PluginKind, rest ...string) string {
	p := "/" + string(kind)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// SystemStatus returns /system/status.
func (c *Client) SystemStatus(ctx context.Context) (SystemStatus, error) {
	var s SystemStatus
	err := c.do(ctx, http.MethodGet, "/system/status", nil, nil, &s)
	return s, err
}

// Schema returns the component templates the host offers for kind.
func (c *Client) Schema(ctx context.Context, kind types.PluginKind) ([]Component, error) {
	var out []Component
	err := c.do(ctx, http.MethodGet, kindPath(kind, "schema"), nil, nil, &out)
	return out, err
}

// List returns the configured components of kind.
func (c *Client) List(ctx context.Context, kind types.PluginKind) ([]Component, error) {
	var out []Component
	err := c.do(ctx, http.MethodGet, kindPath(kind), nil, nil, &out)
	return out, err
}

// Create adds a component and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, kind types.PluginKind, comp Component) (Component, error) {
	var out Component
	err := c.do(ctx, http.MethodPost, kindPath(kind), nil, comp, &out)
	return out, err
}

// Update replaces a component.
func (c *Client) Update(ctx context.Context, kind types.PluginKind, comp Component) (Component, error) {
	var out Component
	err := c.do(ctx, http.MethodPut, kindPath(kind, strconv.Itoa(comp.ID)), nil, comp, &out)
	return out, err
}

// Delete removes a component.
func (c *Client) Delete(ctx context.Context, kind types.PluginKind, id int) error {
	return c.do(ctx, http.MethodDelete, kindPath(kind, strconv.Itoa(id)), nil, nil, nil)
}

// Test asks the host to validate comp's connectivity. A rejected test
// returns a *StatusError carrying the validation failures.
func (c *Client) Test(ctx context.Context, kind types.PluginKind, comp Component) error {
	return c.do(ctx, http.MethodPost, kindPath(kind, "test"), nil, comp, nil)
}

// Albums returns the library albums.
func (c *Client) Albums(ctx context.Context) ([]Album, error) {
	var out []Album
	err := c.do(ctx, http.MethodGet, "/album", nil, nil, &out)
	return out, err
}

// Releases runs an interactive search for albumID across enabled indexers.
func (c *Client) Releases(ctx context.Context, albumID int) ([]Release, error) {
	var out []Release
	q := url.Values{"albumId": {strconv.Itoa(albumID)}}
	err := c.do(ctx, http.MethodGet, "/release", q, nil, &out)
	return out, err
}

// Grab sends a release to the download client.
func (c *Client) Grab(ctx context.Context, r Release) (Release, error) {
	body := map[string]any{"guid": r.GUID}
	if r.IndexerID != nil {
		body["indexerId"] = *r.IndexerID
	}
	var out Release
	err := c.do(ctx, http.MethodPost, "/release", nil, body, &out)
	return out, err
}

// Queue returns the first page of the download queue.
func (c *Client) Queue(ctx context.Context) ([]QueueItem, error) {
	var page Page[QueueItem]
	q := url.Values{
		"page":                      {"1"},
		"pageSize":                  {"200"},
		"includeUnknownArtistItems": {"true"},
	}
	err := c.do(ctx, http.MethodGet, "/queue", q, nil, &page)
	return page.Records, err
}

// History returns the most recent history events.
func (c *Client) History(ctx context.Context, pageSize int) (Page[HistoryRecord], error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	var page Page[HistoryRecord]
	q := url.Values{
		"page":          {"1"},
		"pageSize":      {strconv.Itoa(pageSize)},
		"sortKey":       {"date"},
		"sortDirection": {"descending"},
	}
	err := c.do(ctx, http.MethodGet, "/history", q, nil, &page)
	return page, err
}

// Command queues a named host command.
func (c *Client) Command(ctx context.Context, name string, body map[string]any) (Command, error) {
	payload := map[string]any{"name": name}
	for k, v := range body {
		payload[k] = v
	}
	var out Command
	err := c.do(ctx, http.MethodPost, "/command", nil, payload, &out)
	return out, err
}

// CommandStatus returns the current state of a queued command.
func (c *Client) CommandStatus(ctx context.Context, id int) (Command, error) {
	var out Command
	err := c.do(ctx, http.MethodGet, "/command/"+strconv.Itoa(id), nil, nil, &out)
	return out, err
}
