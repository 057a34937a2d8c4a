// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pdiddy/plugin-e2e/internal/container"
	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// snapshot is the host state Persistence expects to survive a restart.
type snapshot struct {
	Version      string                    `json:"version"`
	Components   map[string][]componentRef `json:"components"`
	Queue        []queueRef                `json:"queue"`
	HistoryTotal int                       `json:"historyTotal"`
}

type componentRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type queueRef struct {
	ID         int    `json:"id"`
	DownloadID string `json:"downloadId,omitempty"`
	Completed  bool   `json:"completed"`
}

func (s snapshot) summary() map[string]any {
	comps := map[string]any{}
	for k, refs := range s.Components {
		comps[k] = len(refs)
	}
	return map[string]any{
		"version":      s.Version,
		"components":   comps,
		"queueCount":   len(s.Queue),
		"historyTotal": s.HistoryTotal,
	}
}

// runPersistence snapshots the host, restarts its container, and checks
// that the plugin's components, the queue and history all came back.
func runPersistence(ctx context.Context, r *Runner, _ *state) types.GateResult {
	name := types.GatePersistence
	if skip := r.needContainer(ctx, name); skip != nil {
		return *skip
	}

	before, err := r.takeSnapshot(ctx)
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "snapshot", phase: "before"}, nil)
	}
	details := map[string]any{"before": before.summary()}
	if r.store != nil {
		if err := r.store.SaveSnapshot(ctx, r.runID, name, before); err != nil {
			return types.Failed(name, r.plugin(), errcode.InternalError,
				[]string{"save snapshot: " + err.Error()}, details)
		}
	}

	at := step{operation: "restart " + r.cfg.Container.Name, phase: "restart"}
	start := r.now()
	if res := r.rt.Restart(ctx, r.cfg.Container.Name); !res.OK() {
		return fromExec(name, r.plugin(), res, at, details)
	}

	timeout := container.TimeoutsFrom(r.cfg.Container).Restart
	if err := r.waitContainer(ctx, timeout); err != nil {
		return pollTimeout(name, r.plugin(), errcode.APITimeout, errcode.TimeoutProcess, "", timeout,
			step{operation: "inspect " + r.cfg.Container.Name, phase: "restart"},
			fmt.Sprintf("container %s not running within %s of restart", r.cfg.Container.Name, timeout), details)
	}
	err = r.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		// Refused connections are expected while the host boots.
		_, err := r.host.SystemStatus(ctx)
		return err == nil, ctx.Err()
	})
	switch {
	case errors.Is(err, errPollTimeout):
		return pollTimeout(name, r.plugin(), errcode.APITimeout, errcode.TimeoutHTTP, "/api/v1/system/status", timeout,
			step{operation: "GET /system/status", phase: "restart"},
			fmt.Sprintf("host did not answer within %s of restart", timeout), details)
	case err != nil:
		return fromError(name, r.plugin(), err, step{operation: "GET /system/status", phase: "restart"}, details)
	}
	details["restartSeconds"] = r.now().Sub(start).Seconds()

	if r.store != nil {
		var stored snapshot
		if err := r.store.LoadSnapshot(ctx, r.runID, name, &stored); err != nil {
			return types.Failed(name, r.plugin(), errcode.InternalError,
				[]string{"load snapshot: " + err.Error()}, details)
		}
		before = stored
	}

	for _, pc := range r.pluginComponents() {
		if _, err := r.lookupSchema(ctx, pc.kind, pc.impl); err != nil {
			return fromError(name, r.plugin(), err,
				step{operation: "GET /" + string(pc.kind) + "/schema", phase: "after"}, details)
		}
	}
	after, err := r.takeSnapshot(ctx)
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "snapshot", phase: "after"}, details)
	}
	details["after"] = after.summary()

	if problems := compareSnapshots(before, after); len(problems) > 0 {
		return types.Failed(name, r.plugin(), "", problems, details)
	}
	return types.Succeeded(name, r.plugin(), details)
}

// waitContainer blocks until the restarted container reports running or
// timeout elapses.
func (r *Runner) waitContainer(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.rt.WaitRunning(ctx, r.cfg.Container.Name, r.pollInterval())
}

// takeSnapshot reads the state Persistence compares.
func (r *Runner) takeSnapshot(ctx context.Context) (snapshot, error) {
	status, err := r.host.SystemStatus(ctx)
	if err != nil {
		return snapshot{}, err
	}
	s := snapshot{Version: status.Version, Components: map[string][]componentRef{}}

	for _, pc := range r.pluginComponents() {
		list, err := r.host.List(ctx, pc.kind)
		if err != nil {
			return snapshot{}, err
		}
		refs := []componentRef{}
		for _, c := range matchImplementation(list, pc.impl) {
			refs = append(refs, componentRef{ID: c.ID, Name: c.Name})
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
		s.Components[string(pc.kind)] = refs
	}

	queue, err := r.host.Queue(ctx)
	if err != nil {
		return snapshot{}, err
	}
	for _, q := range queue {
		s.Queue = append(s.Queue, queueRef{ID: q.ID, DownloadID: q.DownloadID, Completed: q.Completed()})
	}

	history, err := r.host.History(ctx, 1)
	if err != nil {
		return snapshot{}, err
	}
	s.HistoryTotal = history.TotalRecords
	return s, nil
}

// compareSnapshots lists every way after fails to preserve before.
// Completed downloads may be imported during the restart and are not
// required to stay queued.
func compareSnapshots(before, after snapshot) []string {
	var problems []string

	kinds := make([]string, 0, len(before.Components))
	for k := range before.Components {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		present := map[int]bool{}
		names := map[string]int{}
		for _, c := range after.Components[kind] {
			present[c.ID] = true
			names[c.Name]++
		}
		for _, c := range before.Components[kind] {
			if !present[c.ID] {
				problems = append(problems, fmt.Sprintf("%s %d (%s) missing after restart", kind, c.ID, c.Name))
			}
		}
		for _, n := range sortedKeys(names) {
			if names[n] > 1 {
				problems = append(problems, fmt.Sprintf("duplicate %s %q after restart (%d entries)", kind, n, names[n]))
			}
		}
	}

	queued := map[int]bool{}
	downloads := map[string]int{}
	for _, q := range after.Queue {
		queued[q.ID] = true
		if q.DownloadID != "" {
			downloads[q.DownloadID]++
		}
	}
	for _, q := range before.Queue {
		if !q.Completed && !queued[q.ID] {
			problems = append(problems, fmt.Sprintf("queue item %d missing after restart", q.ID))
		}
	}
	for _, id := range sortedKeys(downloads) {
		if downloads[id] > 1 {
			problems = append(problems, fmt.Sprintf("download %s queued %d times after restart", id, downloads[id]))
		}
	}

	if after.HistoryTotal < before.HistoryTotal {
		problems = append(problems, fmt.Sprintf("history shrank from %d to %d records", before.HistoryTotal, after.HistoryTotal))
	}
	return problems
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
