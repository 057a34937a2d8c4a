// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(types.HostConfig{URL: ts.URL, APIKey: testKey}, ts.Client(), nil)
	require.NoError(t, err)
	c.HTTP().Sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(types.HostConfig{}, nil, nil)
	assert.Error(t, err)
	_, err = New(types.HostConfig{URL: "not a url"}, nil, nil)
	assert.Error(t, err)

	c, err := New(types.HostConfig{URL: "http://lidarr:8686/"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://lidarr:8686/api/v1/indexer/schema", c.URL("/indexer/schema", nil))
	assert.Equal(t, defaultTimeout, c.Timeout())
}

func TestSchema_SendsKeyAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/api/v1/indexer/schema", r.URL.Path)
		_, _ = io.WriteString(w, `[{"implementation":"Tidal","implementationName":"Tidal","configContract":"TidalSettings",
			"enableRss":true,"priority":25,"fields":[{"name":"baseUrl","value":"https://api.tidal.com"},{"name":"RefreshToken"}]}]`)
	})

	schema, err := c.Schema(context.Background(), types.KindIndexer)
	require.NoError(t, err)
	require.Len(t, schema, 1)

	comp := schema[0]
	assert.Equal(t, "Tidal", comp.Implementation)
	f, ok := comp.Field("baseurl")
	require.True(t, ok)
	assert.Equal(t, "https://api.tidal.com", f.Value)
	_, ok = comp.Field("missing")
	assert.False(t, ok)

	assert.True(t, comp.SetField("refreshtoken", "r"))
	assert.False(t, comp.SetField("nope", "x"))
	assert.Contains(t, comp.Extra, "enableRss")
}

func TestComponent_RoundTripKeepsExtra(t *testing.T) {
	in := `{"id":3,"name":"x","implementation":"Tidal","fields":[],"tags":[],"priority":25,"enableRss":true}`
	var c Component
	require.NoError(t, json.Unmarshal([]byte(in), &c))
	c.Name = "renamed"

	out, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "renamed", m["name"])
	assert.Equal(t, float64(25), m["priority"])
	assert.Equal(t, true, m["enableRss"])
	assert.Equal(t, float64(3), m["id"])
}

func TestTest_ValidationFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/indexer/test", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `[{"propertyName":"RefreshToken","errorMessage":"Unauthorized: invalid_grant"}]`)
	})

	err := c.Test(context.Background(), types.KindIndexer, Component{Implementation: "Tidal"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	require.Len(t, se.Failures, 1)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.NotContains(t, err.Error(), testKey)
}

func TestDelete_NotFound(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"NotFound"}`)
	})

	err := c.Delete(context.Background(), types.KindImportList, 9)
	assert.Equal(t, http.MethodDelete, method)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "/api/v1/importlist/9")
}

func TestDo_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.SystemStatus(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDo_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c, err := New(types.HostConfig{URL: ts.URL, APIKey: testKey, HTTPConfig: types.HTTPConfig{Timeout: 50 * time.Millisecond}}, nil, nil)
	require.NoError(t, err)

	_, err = c.Queue(context.Background())
	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.Contains(t, te.Endpoint, "/api/v1/queue?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleases_NullIndexer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12", r.URL.Query().Get("albumId"))
		_, _ = io.WriteString(w, `[
			{"guid":"a","title":"A","size":10,"indexerId":4,"indexer":"Tidal"},
			{"guid":"b","title":"B","size":10,"indexerId":null,"indexer":""},
			{"guid":"c","title":"C","size":10,"indexerId":7,"indexer":"Other"}]`)
	})

	rels, err := c.Releases(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, rels, 3)

	assert.True(t, rels[0].FromIndexer(4, ""))
	assert.True(t, rels[0].FromIndexer(0, "tidal"))
	assert.False(t, rels[0].Unattributed())
	assert.True(t, rels[1].Unattributed())
	assert.False(t, rels[1].FromIndexer(4, "Tidal"))
	assert.False(t, rels[2].FromIndexer(4, "Tidal"))
}

func TestGrab_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "g1", body["guid"])
		assert.Equal(t, float64(4), body["indexerId"])
		_, _ = io.WriteString(w, `{"guid":"g1","title":"A"}`)
	})

	id := 4
	got, err := c.Grab(context.Background(), Release{GUID: "g1", IndexerID: &id})
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)
}

func TestQueueHistoryCommand(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/queue":
			_, _ = io.WriteString(w, `{"page":1,"pageSize":200,"totalRecords":1,"records":[{"id":1,"title":"A","status":"completed","downloadId":"d1"}]}`)
		case "/api/v1/history":
			assert.Equal(t, "descending", r.URL.Query().Get("sortDirection"))
			_, _ = io.WriteString(w, `{"page":1,"pageSize":10,"totalRecords":42,"records":[{"id":5,"eventType":"grabbed","sourceTitle":"A"}]}`)
		case "/api/v1/command":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ImportListSync", body["name"])
			_, _ = io.WriteString(w, `{"id":77,"name":"ImportListSync","status":"queued"}`)
		case "/api/v1/command/77":
			_, _ = io.WriteString(w, `{"id":77,"name":"ImportListSync","status":"completed","result":"successful"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	queue, err := c.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.True(t, queue[0].Completed())

	hist, err := c.History(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 42, hist.TotalRecords)

	cmd, err := c.Command(ctx, "ImportListSync", nil)
	require.NoError(t, err)
	assert.False(t, cmd.Done())

	cmd, err = c.CommandStatus(ctx, cmd.ID)
	require.NoError(t, err)
	assert.True(t, cmd.Done())
	assert.True(t, cmd.Succeeded())
}

func TestWithAPIKey(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("X-Api-Key"))
		_, _ = io.WriteString(w, `{"appName":"Lidarr","version":"2.5.0"}`)
	})

	_, err := c.WithAPIKey("bogus").SystemStatus(context.Background())
	require.NoError(t, err)
	st, err := c.SystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.5.0", st.Version)
	assert.Equal(t, []string{"bogus", testKey}, seen)
}

func TestQueueItemStates(t *testing.T) {
	assert.True(t, QueueItem{TrackedDownloadState: "importPending"}.Completed())
	assert.False(t, QueueItem{Status: "downloading"}.Completed())
	assert.True(t, QueueItem{Status: "failed"}.Failed())
	assert.True(t, QueueItem{TrackedDownloadStatus: "Error"}.Failed())
	assert.False(t, Command{Status: "completed", Result: "unsuccessful"}.Succeeded())
}
