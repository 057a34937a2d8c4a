// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gates runs the ordered verification gates against a live host
// and reports one GateResult per gate.
//
// Gates run sequentially and share a run state: later gates use what
// earlier gates created (the indexer, the selected release, the queue
// item). A gate whose predecessor failed, skipped, or was not selected
// skips with a reason naming it. No gate returns an error or panics past
// the runner; every condition lands in the result.
package gates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pdiddy/plugin-e2e/internal/container"
	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/internal/redact"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultQueueTimeout   = 60 * time.Second
	defaultCommandTimeout = 120 * time.Second
)

// SnapshotStore persists host state across a container restart.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, runID, gate string, v any) error
	LoadSnapshot(ctx context.Context, runID, gate string, v any) error
}

// Options carries the runner's collaborators.
type Options struct {
	Host *hostapi.Client

	// Runtime drives the host container. Nil means unavailable, and
	// RuntimeErr says why.
	Runtime    *container.Runtime
	RuntimeErr error

	// Store, when set, holds the Persistence snapshot.
	Store SnapshotStore
	RunID string

	Logger *slog.Logger

	// Out receives one progress line per gate.
	Out io.Writer
}

// Runner executes gates for one run.
type Runner struct {
	cfg    types.Config
	host   *hostapi.Client
	rt     *container.Runtime
	rtErr  error
	store  SnapshotStore
	runID  string
	logger *slog.Logger
	out    io.Writer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	created []createdComponent
}

// NewRunner returns a Runner for cfg.
func NewRunner(cfg types.Config, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		cfg:    cfg,
		host:   opts.Host,
		rt:     opts.Runtime,
		rtErr:  opts.RuntimeErr,
		store:  opts.Store,
		runID:  opts.RunID,
		logger: logger,
		out:    out,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// gate is one entry of the fixed gate table.
type gate struct {
	name string

	// needs is the gate whose success this gate depends on, or "".
	needs string

	run func(ctx context.Context, r *Runner, st *state) types.GateResult
}

// gateTable lists every gate in execution order.
var gateTable = []gate{
	{name: types.GateSchema, run: runSchema},
	{name: types.GateSearch, needs: types.GateSchema, run: runSearch},
	{name: types.GateAlbumSearch, needs: types.GateSearch, run: runAlbumSearch},
	{name: types.GateGrab, needs: types.GateAlbumSearch, run: runGrab},
	{name: types.GateMetadata, needs: types.GateGrab, run: runMetadata},
	{name: types.GateImportList, needs: types.GateSchema, run: runImportList},
	{name: types.GatePersistence, run: runPersistence},
	{name: types.GateAuthFailure, run: runAuthFailure},
}

// state is what gates hand to later gates.
type state struct {
	outcomes map[string]types.Outcome

	indexer  *hostapi.Component
	client   *hostapi.Component
	album    *hostapi.Album
	selected *hostapi.Release
	queued   *hostapi.QueueItem
}

// Selected reports whether gate is enabled by only. An empty list enables
// every gate.
func Selected(only []string, gate string) bool {
	if len(only) == 0 {
		return true
	}
	for _, g := range only {
		if strings.EqualFold(strings.TrimSpace(g), gate) {
			return true
		}
	}
	return false
}

// Run executes the selected gates in order and returns their results.
func (r *Runner) Run(ctx context.Context) []types.GateResult {
	st := &state{outcomes: map[string]types.Outcome{}}
	var results []types.GateResult

	for _, g := range gateTable {
		if !Selected(r.cfg.Gates.Only, g.name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			res := types.Skipped(g.name, r.plugin(), "run cancelled: "+err.Error(), nil)
			res.StartedAt, res.EndedAt = r.now(), r.now()
			results = append(results, res)
			continue
		}

		res := r.runGate(ctx, g, st)
		if res.Outcome == types.OutcomeFailed && containerLogGates[g.name] {
			r.attachContainerLog(ctx, &res)
		}
		st.outcomes[g.name] = res.Outcome
		results = append(results, res)

		r.logger.Info("gate finished",
			"gate", res.Gate, "outcome", res.Outcome, "code", res.Code(),
			"duration", res.Duration().Round(time.Millisecond))
		fmt.Fprintf(r.out, "%-12s %s", res.Gate+":", res.Outcome)
		switch {
		case res.Outcome == types.OutcomeSkipped:
			fmt.Fprintf(r.out, " (%s)", res.Reason())
		case res.Code() != "":
			fmt.Fprintf(r.out, " (%s)", res.Code())
		}
		fmt.Fprintf(r.out, " [%s]\n", res.Duration().Round(time.Millisecond))
	}
	if r.cfg.Gates.Cleanup && len(r.created) > 0 {
		// Components are removed even when the run was cancelled.
		r.cleanup(context.WithoutCancel(ctx))
	}
	return results
}

// runGate applies the predecessor rule and runs g with panic recovery. The
// returned result is stamped and redacted.
func (r *Runner) runGate(ctx context.Context, g gate, st *state) (res types.GateResult) {
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			msg := redact.Text(fmt.Sprint(p))
			r.logger.Error("gate panicked", "gate", g.name, "panic", msg)
			res = types.Failed(g.name, r.plugin(), errcode.InternalError,
				[]string{"internal error: " + msg}, map[string]any{"panic": true})
		}
		res.Gate = g.name
		res.Plugin = r.plugin()
		res.StartedAt = start
		res.EndedAt = r.now()
		res = scrub(res)
	}()

	if g.needs != "" {
		switch st.outcomes[g.needs] {
		case types.OutcomeSuccess:
		case types.OutcomeFailed:
			return types.Skipped(g.name, r.plugin(), "predecessor "+g.needs+" failed",
				map[string]any{"predecessor": g.needs})
		default:
			return types.Skipped(g.name, r.plugin(), "predecessor "+g.needs+" did not run",
				map[string]any{"predecessor": g.needs})
		}
	}
	if r.host == nil {
		return types.Failed(g.name, r.plugin(), errcode.ConfigInvalid,
			[]string{"host client is not configured"}, nil)
	}
	return g.run(ctx, r, st)
}

// containerLogGates are the gates whose failures carry a container log
// excerpt. Their diagnosis usually lives in the host log.
var containerLogGates = map[string]bool{
	types.GateGrab:        true,
	types.GateMetadata:    true,
	types.GatePersistence: true,
}

// attachContainerLog adds the redacted tail of the host container log to
// res. Collection failures are logged and leave res unchanged.
func (r *Runner) attachContainerLog(ctx context.Context, res *types.GateResult) {
	name := strings.TrimSpace(r.cfg.Container.Name)
	if r.rt == nil || name == "" {
		return
	}
	out := r.rt.Logs(ctx, name, r.cfg.Container.LogTail)
	if !out.OK() {
		r.logger.Warn("could not collect container log", "gate", res.Gate, "error", out.Err())
		return
	}
	lines := logLines(out.Stdout, out.Stderr)
	if len(lines) == 0 {
		return
	}
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	res.Details[types.DetailContainerLog] = lines
}

// logLines splits container output into redacted, non-blank lines.
func logLines(streams ...string) []string {
	var lines []string
	for _, s := range streams {
		for line := range strings.Lines(s) {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, redact.Text(line))
			}
		}
	}
	return lines
}

// scrub redacts every string the result carries.
func scrub(res types.GateResult) types.GateResult {
	res.Errors = redact.Strings(res.Errors)
	if res.SkipReason != nil {
		s := redact.Text(*res.SkipReason)
		res.SkipReason = &s
	}
	res.Details = redact.Map(res.Details)
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	return res
}

func (r *Runner) plugin() string {
	if r.cfg.Plugin.Name != "" {
		return r.cfg.Plugin.Name
	}
	return r.cfg.Plugin.Implementation
}

func (r *Runner) pollInterval() time.Duration {
	if d := r.cfg.Gates.PollInterval; d > 0 {
		return d
	}
	return defaultPollInterval
}

func (r *Runner) queueTimeout() time.Duration {
	if d := r.cfg.Gates.QueueTimeout; d > 0 {
		return d
	}
	return defaultQueueTimeout
}

func (r *Runner) commandTimeout() time.Duration {
	if d := r.cfg.Gates.CommandTimeout; d > 0 {
		return d
	}
	return defaultCommandTimeout
}

// errPollTimeout is returned by poll when the deadline passes.
var errPollTimeout = errors.New("poll deadline exceeded")

// poll calls fn every interval until it reports done, returns an error, or
// timeout elapses. The first call happens immediately.
func (r *Runner) poll(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (bool, error)) error {
	deadline := r.now().Add(timeout)
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !r.now().Before(deadline) {
			return errPollTimeout
		}
		if err := r.sleep(ctx, r.pollInterval()); err != nil {
			return err
		}
	}
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
