// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// runGrab sends the selected release to the download client and waits for
// it to show up in the queue.
func runGrab(ctx context.Context, r *Runner, st *state) types.GateResult {
	name := types.GateGrab
	if st.selected == nil {
		return types.Skipped(name, r.plugin(), "no release selected", nil)
	}
	details := map[string]any{"release": st.selected.Title}

	if impl := r.cfg.Plugin.DownloadClientImplementation; impl != "" {
		e, err := r.ensureComponent(ctx, types.KindDownloadClient, impl)
		if err != nil {
			return fromError(name, r.plugin(), err, step{operation: "ensure download client", phase: "setup"}, details)
		}
		details["downloadClient"] = e.details()
		if err := r.host.Test(ctx, types.KindDownloadClient, e.comp); err != nil {
			return fromError(name, r.plugin(), err, step{operation: "POST /downloadclient/test", phase: "test"}, details)
		}
		comp := e.comp
		st.client = &comp
	}

	if _, err := r.host.Grab(ctx, *st.selected); err != nil {
		return fromError(name, r.plugin(), err, step{operation: "POST /release", phase: "grab"}, details)
	}
	r.logger.Info("release grabbed", "title", st.selected.Title)

	var item *hostapi.QueueItem
	timeout := r.queueTimeout()
	err := r.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		queue, err := r.host.Queue(ctx)
		if err != nil {
			return false, err
		}
		item = findQueued(queue, *st.selected, st.album)
		return item != nil, nil
	})
	switch {
	case errors.Is(err, errPollTimeout):
		return pollTimeout(name, r.plugin(), errcode.QueueNotFound, errcode.TimeoutQueue, "/api/v1/queue", timeout,
			step{operation: "GET /queue", phase: "queue"},
			fmt.Sprintf("release %q never appeared in the queue within %s", st.selected.Title, timeout), details)
	case err != nil:
		return fromError(name, r.plugin(), err, step{operation: "GET /queue", phase: "queue"}, details)
	}

	details["queueId"] = item.ID
	details["downloadId"] = item.DownloadID
	details["status"] = item.Status
	if item.Failed() {
		msg := "download failed in the queue"
		if item.ErrorMessage != "" {
			msg += ": " + item.ErrorMessage
		}
		return types.Failed(name, r.plugin(), errcode.Resolve("", msg), []string{msg}, details)
	}
	st.queued = item
	return types.Succeeded(name, r.plugin(), details)
}

// findQueued returns the queue item for rel. Items match by title, or by
// album when the client renamed the download.
func findQueued(queue []hostapi.QueueItem, rel hostapi.Release, album *hostapi.Album) *hostapi.QueueItem {
	title := strings.TrimSpace(rel.Title)
	for i := range queue {
		if strings.EqualFold(strings.TrimSpace(queue[i].Title), title) {
			return &queue[i]
		}
	}
	if album == nil {
		return nil
	}
	for i := range queue {
		q := queue[i]
		if q.AlbumID != 0 && q.AlbumID == album.ID && (rel.Indexer == "" || strings.EqualFold(q.Indexer, rel.Indexer)) {
			return &queue[i]
		}
	}
	return nil
}
