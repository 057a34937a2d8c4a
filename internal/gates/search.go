// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/internal/selection"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// precheck evaluates the configured credential precondition. A non-nil
// result is the skip to return.
func (r *Runner) precheck(gate string) *types.GateResult {
	check := PrereqFrom(r.cfg.Gates).Evaluate(r.cfg.Plugin.Fields)
	if check.Satisfied {
		return nil
	}
	res := types.Skipped(gate, r.plugin(), check.Reason(), map[string]any{"precheck": check.Details()}).
		WithCode(errcode.AuthMissing)
	return &res
}

// runSearch creates or reuses the plugin's indexer and asks the host to
// test it.
func runSearch(ctx context.Context, r *Runner, st *state) types.GateResult {
	name := types.GateSearch
	if skip := r.precheck(name); skip != nil {
		return *skip
	}

	e, err := r.ensureComponent(ctx, types.KindIndexer, r.cfg.Plugin.Implementation)
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "ensure indexer", phase: "setup"}, nil)
	}
	details := e.details()

	if err := r.host.Test(ctx, types.KindIndexer, e.comp); err != nil {
		return fromError(name, r.plugin(), err, step{operation: "POST /indexer/test", phase: "test"}, details)
	}

	comp := e.comp
	st.indexer = &comp
	details["tested"] = true
	return types.Succeeded(name, r.plugin(), details)
}

// runAlbumSearch searches the configured album across indexers and keeps
// the deterministic pick among releases from the plugin's indexer.
func runAlbumSearch(ctx context.Context, r *Runner, st *state) types.GateResult {
	name := types.GateAlbumSearch
	artist, title := strings.TrimSpace(r.cfg.Gates.Artist), strings.TrimSpace(r.cfg.Gates.Album)
	if title == "" {
		return types.Skipped(name, r.plugin(), "gates.album is not configured", nil)
	}

	albums, err := r.host.Albums(ctx)
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "GET /album", phase: "lookup"}, nil)
	}
	album, ok := findAlbum(albums, artist, title)
	if !ok {
		return types.Skipped(name, r.plugin(),
			fmt.Sprintf("album %q by %q is not in the host library", title, artist), nil)
	}
	st.album = &album

	releases, err := r.host.Releases(ctx, album.ID)
	details := map[string]any{"albumId": album.ID}
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "GET /release", phase: "search"}, details)
	}

	res, picked := attribute(name, r.plugin(), releases, *st.indexer, r.cfg.Gates.SizePolicy, details)
	if picked == nil {
		return res
	}
	if n, _ := res.Details["nullIndexerReleaseCount"].(int); n > 0 {
		r.logger.Warn("releases without indexer attribution", "gate", name, "count", n)
		fmt.Fprintf(r.out, "  warning: %d releases carry no indexer, parser regression suspected\n", n)
	}
	st.selected = picked
	return res
}

func findAlbum(albums []hostapi.Album, artist, title string) (hostapi.Album, bool) {
	for _, a := range albums {
		if !strings.EqualFold(strings.TrimSpace(a.Title), title) {
			continue
		}
		if artist == "" || strings.EqualFold(strings.TrimSpace(a.ArtistName()), artist) {
			return a, true
		}
	}
	return hostapi.Album{}, false
}

// attribute applies the attribution rule to a search result and selects
// one release. Releases that exist but none from the plugin's indexer is
// always a failure. Releases with no indexer at all are counted and flagged
// but do not change the outcome. The returned release is nil unless the
// result is a success.
func attribute(gate, plugin string, releases []hostapi.Release, indexer hostapi.Component, policy types.SizePolicy, base map[string]any) (types.GateResult, *hostapi.Release) {
	details := maps.Clone(base)
	if details == nil {
		details = map[string]any{}
	}
	details["releaseCount"] = len(releases)

	var mine []hostapi.Release
	nullCount := 0
	for _, rel := range releases {
		if rel.Unattributed() {
			nullCount++
		}
		if rel.FromIndexer(indexer.ID, indexer.Name) {
			mine = append(mine, rel)
		}
	}
	details["attributedCount"] = len(mine)
	if nullCount > 0 {
		details["nullIndexerReleaseCount"] = nullCount
		details["parserRegressionSuspected"] = true
	}

	if len(releases) == 0 {
		return types.Failed(gate, plugin, "", []string{"search returned no releases"}, details), nil
	}
	if len(mine) == 0 {
		msg := fmt.Sprintf("%d releases returned but none attributed to indexer %d (%s)",
			len(releases), indexer.ID, indexer.Name)
		if nullCount > 0 {
			msg += fmt.Sprintf("; %d releases have no indexer, parser regression suspected", nullCount)
		}
		return types.Failed(gate, plugin, errcode.NoReleasesAttributed, []string{msg}, details), nil
	}

	// Releases can tie on every selection key and still differ elsewhere
	// (protocol, download URL). Ordering by the whole record first makes
	// the index tie-break independent of response order.
	slices.SortStableFunc(mine, func(a, b hostapi.Release) int {
		return strings.Compare(releaseKey(a), releaseKey(b))
	})

	candidates := make([]selection.Candidate, len(mine))
	for i, rel := range mine {
		id := 0
		if rel.IndexerID != nil {
			id = *rel.IndexerID
		}
		candidates[i] = selection.Candidate{
			Title:         rel.Title,
			GUID:          rel.GUID,
			Size:          rel.Size,
			IndexerID:     id,
			OriginalIndex: i,
		}
	}
	winner, basis, err := selection.Select(candidates, policy)
	if err != nil {
		return types.Failed(gate, plugin, errcode.InternalError, []string{err.Error()}, details), nil
	}
	picked := mine[winner.OriginalIndex]
	details["selection"] = basis.Map()
	details["selectedTitle"] = picked.Title
	return types.Succeeded(gate, plugin, details), &picked
}

// releaseKey is the canonical JSON encoding of rel.
func releaseKey(rel hostapi.Release) string {
	b, err := json.Marshal(rel)
	if err != nil {
		return ""
	}
	return string(b)
}
