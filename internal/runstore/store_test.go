// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func manifestAt(runID string, at time.Time, results ...types.GateResult) types.RunManifest {
	m := types.RunManifest{SchemaVersion: "1.2.0", RunID: runID, GeneratedAt: at, Results: results}
	m.Summary.Total = len(results)
	for _, r := range results {
		switch r.Outcome {
		case types.OutcomeSuccess:
			m.Summary.Passed++
		case types.OutcomeFailed:
			m.Summary.Failed++
		default:
			m.Summary.Skipped++
		}
	}
	m.Summary.OverallSuccess = m.Summary.Failed == 0
	return m
}

func TestSaveManifest_ListRuns(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveManifest(ctx, manifestAt("r1", base,
		types.Succeeded(types.GateSchema, "p", nil))))
	failed := manifestAt("r2", base.Add(time.Hour),
		types.Succeeded(types.GateSchema, "p", nil),
		types.Failed(types.GateSearch, "p", errcode.NoReleasesAttributed, []string{"no releases attributed"}, nil))
	failed.HostBugSuspected = types.HostBugSuspicion{Detected: true, Tier: errcode.TierABI}
	require.NoError(t, s.SaveManifest(ctx, failed))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Total)
	assert.Equal(t, 1, runs[0].Failed)
	assert.False(t, runs[0].OverallSuccess)
	assert.Equal(t, errcode.TierABI, runs[0].HostBugTier)
	assert.True(t, base.Add(time.Hour).Equal(runs[0].GeneratedAt))
	assert.Equal(t, "r1", runs[1].RunID)
	assert.True(t, runs[1].OverallSuccess)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveManifest_Replaces(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveManifest(ctx, manifestAt("r1", at,
		types.Succeeded(types.GateSchema, "p", nil),
		types.Succeeded(types.GateSearch, "p", nil))))
	require.NoError(t, s.SaveManifest(ctx, manifestAt("r1", at,
		types.Succeeded(types.GateSchema, "p", nil))))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Total)

	hist, err := s.GateHistory(ctx, types.GateSearch, 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestGateHistory(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	base := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	for i, r := range []types.GateResult{
		types.Succeeded(types.GateGrab, "p", nil),
		types.Failed(types.GateGrab, "p", errcode.QueueNotFound, []string{"no queue item"}, nil),
		types.Skipped(types.GateGrab, "p", "predecessor AlbumSearch failed", nil),
	} {
		r.StartedAt = base.Add(time.Duration(i) * time.Hour)
		r.EndedAt = r.StartedAt.Add(time.Second)
		runID := string(rune('a' + i))
		require.NoError(t, s.SaveManifest(ctx, manifestAt(runID, r.StartedAt, r,
			types.Succeeded(types.GateSchema, "p", nil))))
	}

	hist, err := s.GateHistory(ctx, "grab", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "c", hist[0].RunID)
	assert.Equal(t, types.OutcomeSkipped, hist[0].Outcome)
	assert.Equal(t, "predecessor AlbumSearch failed", hist[0].SkipReason)
	assert.Equal(t, types.OutcomeFailed, hist[1].Outcome)
	assert.Equal(t, errcode.QueueNotFound, hist[1].ErrorCode)
	assert.Equal(t, []string{"no queue item"}, hist[1].Errors)
	assert.Equal(t, time.Second, hist[1].EndedAt.Sub(hist[1].StartedAt))
	assert.Equal(t, types.OutcomeSuccess, hist[2].Outcome)

	hist, err = s.GateHistory(ctx, types.GateGrab, 2)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestLoadManifest(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	m := manifestAt("r1", time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		types.Failed(types.GateSchema, "p", errcode.SchemaMissingImplementation, nil, map[string]any{"available": []any{"Newznab"}}))
	require.NoError(t, s.SaveManifest(ctx, m))

	got, err := s.LoadManifest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	require.Len(t, got.Results, 1)
	assert.Equal(t, errcode.SchemaMissingImplementation, got.Results[0].Code())
	assert.Equal(t, []any{"Newznab"}, got.Results[0].Details["available"])

	_, err = s.LoadManifest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	type snap struct {
		Indexers []int            `json:"indexers"`
		Queue    map[string]int64 `json:"queue"`
	}
	var got snap
	assert.ErrorIs(t, s.LoadSnapshot(ctx, "r1", types.GatePersistence, &got), ErrNotFound)

	require.NoError(t, s.SaveSnapshot(ctx, "r1", types.GatePersistence, snap{Indexers: []int{1, 2}}))
	require.NoError(t, s.SaveSnapshot(ctx, "r1", types.GatePersistence, snap{Indexers: []int{3}, Queue: map[string]int64{"x": 9}}))

	require.NoError(t, s.LoadSnapshot(ctx, "r1", types.GatePersistence, &got))
	assert.Equal(t, snap{Indexers: []int{3}, Queue: map[string]int64{"x": 9}}, got)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveManifest(ctx, manifestAt("r1", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
