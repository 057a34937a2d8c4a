// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

const importListSyncCommand = "ImportListSync"

// runImportList creates or reuses the plugin's import list, triggers a sync
// and waits for the command to finish.
func runImportList(ctx context.Context, r *Runner, _ *state) types.GateResult {
	name := types.GateImportList
	impl := r.cfg.Plugin.ImportListImplementation
	if impl == "" {
		return types.Skipped(name, r.plugin(), "plugin ships no import list", nil)
	}
	if skip := r.precheck(name); skip != nil {
		return *skip
	}

	e, err := r.ensureComponent(ctx, types.KindImportList, impl)
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "ensure import list", phase: "setup"}, nil)
	}
	details := e.details()

	body := map[string]any{"definitionId": e.comp.ID}
	cmd, err := r.host.Command(ctx, importListSyncCommand, body)
	if err != nil {
		return fromError(name, r.plugin(), err, step{operation: "POST /command", phase: "sync"}, details)
	}
	details["commandId"] = cmd.ID

	endpoint := "/api/v1/command/" + strconv.Itoa(cmd.ID)
	timeout := r.commandTimeout()
	err = r.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		c, err := r.host.CommandStatus(ctx, cmd.ID)
		if err != nil {
			return false, err
		}
		cmd = c
		return c.Done(), nil
	})
	switch {
	case errors.Is(err, errPollTimeout):
		return pollTimeout(name, r.plugin(), errcode.APITimeout, errcode.TimeoutCommand, endpoint, timeout,
			step{operation: "GET /command", phase: "sync"},
			fmt.Sprintf("%s command %d still %s after %s", importListSyncCommand, cmd.ID, cmd.Status, timeout), details)
	case err != nil:
		return fromError(name, r.plugin(), err, step{operation: "GET /command", phase: "sync"}, details)
	}

	details["commandStatus"] = cmd.Status
	if cmd.Result != "" {
		details["commandResult"] = cmd.Result
	}
	if !cmd.Succeeded() {
		return types.Failed(name, r.plugin(), errcode.ImportFailed, []string{commandFailure(cmd)}, details)
	}
	return types.Succeeded(name, r.plugin(), details)
}

func commandFailure(c hostapi.Command) string {
	msg := fmt.Sprintf("import list sync failed: command %s", c.Status)
	if c.Result != "" {
		msg += " (" + c.Result + ")"
	}
	switch {
	case c.Exception != "":
		msg += ": " + c.Exception
	case c.Message != "":
		msg += ": " + c.Message
	}
	return msg
}
