// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pdiddy/plugin-e2e/internal/container"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const testKey = "0123456789abcdef0123456789abcdef"

// fakeHost is an in-memory stand-in for the host REST API.
type fakeHost struct {
	mu sync.Mutex

	schema     map[string][]hostapi.Component
	components map[string][]hostapi.Component
	nextID     int

	// testErr makes POST /{kind}/test fail validation with the message.
	testErr map[string]string

	albums   []hostapi.Album
	releases []hostapi.Release

	// queueOnGrab adds a queue item for the grabbed release.
	queueOnGrab bool
	grabStatus  string
	grabOutput  string
	queue       []hostapi.QueueItem

	historyTotal int

	// commandFinal is what GET /command/{id} reports.
	commandFinal hostapi.Command

	// badKeyStatus answers requests with a wrong key. Zero accepts them.
	badKeyStatus     int
	badKeyRetryAfter string

	calls []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		schema: map[string][]hostapi.Component{
			"indexer": {
				{Implementation: "Newznab", ImplementationName: "Newznab", Fields: []hostapi.Field{{Name: "baseUrl"}}},
				{Implementation: "Tidal", ImplementationName: "Tidal", ConfigContract: "TidalSettings",
					Fields: []hostapi.Field{{Name: "refreshToken", Type: "textbox"}, {Name: "pageSize", Type: "number"}}},
			},
		},
		components:   map[string][]hostapi.Component{},
		nextID:       1,
		testErr:      map[string]string{},
		badKeyStatus: http.StatusUnauthorized,
		commandFinal: hostapi.Command{Status: hostapi.CommandCompleted, Result: "successful"},
	}
}

func (f *fakeHost) called(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	f.calls = append(f.calls, r.Method+" /"+path)

	if r.Header.Get("X-Api-Key") != testKey && f.badKeyStatus != 0 {
		if f.badKeyRetryAfter != "" {
			w.Header().Set("Retry-After", f.badKeyRetryAfter)
		}
		w.WriteHeader(f.badKeyStatus)
		return
	}

	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && path == "system/status":
		writeJSON(w, http.StatusOK, hostapi.SystemStatus{AppName: "Lidarr", Version: "2.9.6"})
	case r.Method == http.MethodGet && path == "album":
		writeJSON(w, http.StatusOK, f.albums)
	case r.Method == http.MethodGet && path == "release":
		writeJSON(w, http.StatusOK, f.releases)
	case r.Method == http.MethodPost && path == "release":
		var body struct {
			GUID string `json:"guid"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, rel := range f.releases {
			if rel.GUID != body.GUID {
				continue
			}
			if f.queueOnGrab {
				status := f.grabStatus
				if status == "" {
					status = "downloading"
				}
				f.queue = append(f.queue, hostapi.QueueItem{
					ID: 100, Title: rel.Title, Status: status, DownloadID: "dl-100",
					Indexer: rel.Indexer, OutputPath: f.grabOutput,
				})
			}
			writeJSON(w, http.StatusOK, rel)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "release not cached"})
	case r.Method == http.MethodGet && path == "queue":
		writeJSON(w, http.StatusOK, hostapi.Page[hostapi.QueueItem]{Page: 1, TotalRecords: len(f.queue), Records: f.queue})
	case r.Method == http.MethodGet && path == "history":
		writeJSON(w, http.StatusOK, hostapi.Page[hostapi.HistoryRecord]{Page: 1, TotalRecords: f.historyTotal})
	case r.Method == http.MethodPost && path == "command":
		writeJSON(w, http.StatusCreated, hostapi.Command{ID: 7, Name: "ImportListSync", Status: hostapi.CommandQueued})
	case r.Method == http.MethodGet && len(segs) == 2 && segs[0] == "command":
		c := f.commandFinal
		c.ID, _ = strconv.Atoi(segs[1])
		writeJSON(w, http.StatusOK, c)
	case r.Method == http.MethodGet && len(segs) == 2 && segs[1] == "schema":
		writeJSON(w, http.StatusOK, f.schema[segs[0]])
	case r.Method == http.MethodGet && len(segs) == 1:
		list := f.components[segs[0]]
		if list == nil {
			list = []hostapi.Component{}
		}
		writeJSON(w, http.StatusOK, list)
	case r.Method == http.MethodPost && len(segs) == 2 && segs[1] == "test":
		if msg := f.testErr[segs[0]]; msg != "" {
			writeJSON(w, http.StatusBadRequest, []hostapi.ValidationFailure{{PropertyName: "refreshToken", ErrorMessage: msg}})
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && len(segs) == 1:
		var c hostapi.Component
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		c.ID = f.nextID
		f.nextID++
		f.components[segs[0]] = append(f.components[segs[0]], c)
		writeJSON(w, http.StatusCreated, c)
	case r.Method == http.MethodDelete && len(segs) == 2:
		list := f.components[segs[0]]
		for i := range list {
			if strconv.Itoa(list[i].ID) == segs[1] {
				f.components[segs[0]] = slices.Delete(list, i, i+1)
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "NotFound"})
	case r.Method == http.MethodPut && len(segs) == 2:
		var c hostapi.Component
		_ = json.NewDecoder(r.Body).Decode(&c)
		list := f.components[segs[0]]
		for i := range list {
			if strconv.Itoa(list[i].ID) == segs[1] {
				list[i] = c
			}
		}
		writeJSON(w, http.StatusAccepted, c)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no route " + r.Method + " " + path})
	}
}

// fakeExec answers container invocations through fn.
type fakeExec struct {
	mu    sync.Mutex
	fn    func(args []string) container.Result
	calls []string
}

func (e *fakeExec) LookPath(file string) (string, error) { return "/usr/bin/" + file, nil }

func (e *fakeExec) Run(_ context.Context, _ time.Duration, name string, args ...string) container.Result {
	e.mu.Lock()
	e.calls = append(e.calls, strings.Join(args, " "))
	e.mu.Unlock()
	var out container.Result
	if e.fn != nil {
		out = e.fn(args)
	}
	if out.OK() && out.Stdout == "" {
		out.Stdout = runningContainer(args)
	}
	out.Command = name + " " + strings.Join(args, " ")
	return out
}

// runningContainer is the default output of ps and inspect for a container
// named lidarr that is up.
func runningContainer(args []string) string {
	switch {
	case args[0] == "ps":
		return "lidarr-sidecar\tUp 3 hours\nlidarr\tUp 2 hours\n"
	case args[0] == "inspect" && slices.Contains(args, "{{.State.Running}}"):
		return "true\n"
	case args[0] == "inspect":
		return "running\n"
	}
	return ""
}

func execFail(kind container.Kind, stderr string) container.Result {
	return container.Result{ExitCode: 1, Stderr: stderr, Kind: kind, Remediation: container.Remediation(kind)}
}

// fakeClock advances only when the runner sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

func baseConfig() types.Config {
	return types.Config{
		Plugin: types.PluginConfig{
			Name:           "Tidalarr",
			Implementation: "Tidal",
			Fields:         map[string]string{"refreshToken": "rt-abc", "pageSize": "50"},
		},
		Container: types.ContainerConfig{Name: "lidarr", DownloadPath: "/downloads"},
		Gates: types.GatesConfig{
			Artist: "Daft Punk",
			Album:  "Discovery",
		},
	}
}

type harness struct {
	host   *fakeHost
	exec   *fakeExec
	clock  *fakeClock
	out    *bytes.Buffer
	runner *Runner
}

// newHarness wires a Runner to a fake host and a fake container runtime.
// A nil exec leaves the runtime unavailable.
func newHarness(t *testing.T, cfg types.Config, host *fakeHost, exec *fakeExec) *harness {
	t.Helper()
	ts := httptest.NewServer(host)
	t.Cleanup(ts.Close)

	cfg.Host.URL = ts.URL
	cfg.Host.APIKey = testKey
	client, err := hostapi.New(cfg.Host, ts.Client(), nil)
	require.NoError(t, err)
	client.HTTP().Sleep = func(context.Context, time.Duration) error { return nil }

	opts := Options{Host: client, Out: &bytes.Buffer{}, RunID: "run-1"}
	if exec != nil {
		opts.Runtime = container.NewRuntime("docker", exec, container.Timeouts{
			Diagnostic: time.Second, Logs: time.Second, Restart: time.Second,
		})
	} else {
		opts.RuntimeErr = errNoRuntime
	}
	h := &harness{host: host, exec: exec, clock: &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}}
	h.out = opts.Out.(*bytes.Buffer)
	h.runner = NewRunner(cfg, opts)
	h.runner.now = h.clock.Now
	h.runner.sleep = h.clock.Sleep
	return h
}

var errNoRuntime = errors.New("no container runtime available")

// byGate indexes results by gate name.
func byGate(results []types.GateResult) map[string]types.GateResult {
	m := make(map[string]types.GateResult, len(results))
	for _, r := range results {
		m[r.Gate] = r
	}
	return m
}

func intp(v int) *int { return &v }
