// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pdiddy/plugin-e2e/internal/container"
	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// audioExtensions are the file types counted as audio, lowercased.
var audioExtensions = []string{".flac", ".mp3", ".m4a", ".ogg", ".opus", ".wav", ".aac", ".alac"}

// requiredTags must be present on every sampled file.
var requiredTags = []string{"artist", "album", "title"}

// tagSample bounds how many files are probed for tags.
const tagSample = 3

// runMetadata waits for the grabbed download to finish, then checks inside
// the host container that audio files landed and carry basic tags.
func runMetadata(ctx context.Context, r *Runner, st *state) types.GateResult {
	name := types.GateMetadata
	if skip := r.needContainer(ctx, name); skip != nil {
		return *skip
	}
	if st.queued == nil {
		return types.Skipped(name, r.plugin(), "no queue item to follow", nil)
	}
	details := map[string]any{"queueId": st.queued.ID}

	var item *hostapi.QueueItem
	timeout := r.commandTimeout()
	err := r.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		queue, err := r.host.Queue(ctx)
		if err != nil {
			return false, err
		}
		i := slices.IndexFunc(queue, func(q hostapi.QueueItem) bool { return q.ID == st.queued.ID })
		if i < 0 {
			// Imported items leave the queue.
			item = st.queued
			return true, nil
		}
		item = &queue[i]
		return item.Completed() || item.Failed(), nil
	})
	switch {
	case errors.Is(err, errPollTimeout):
		return pollTimeout(name, r.plugin(), errcode.APITimeout, errcode.TimeoutQueue, "/api/v1/queue", timeout,
			step{operation: "GET /queue", phase: "download"},
			fmt.Sprintf("download %q did not complete within %s", st.queued.Title, timeout), details)
	case err != nil:
		return fromError(name, r.plugin(), err, step{operation: "GET /queue", phase: "download"}, details)
	}
	if item.Failed() {
		msg := "download failed: " + item.ErrorMessage
		return types.Failed(name, r.plugin(), errcode.Resolve("", msg), []string{msg}, details)
	}

	dir := item.OutputPath
	if dir == "" {
		dir = r.cfg.Container.DownloadPath
	}
	if dir == "" {
		return types.Skipped(name, r.plugin(), "no output path reported and container.download_path is not set", details)
	}
	details["path"] = dir

	at := step{operation: "find " + dir, phase: "files"}
	res := r.rt.Exec(ctx, r.cfg.Container.Name, "find", dir, "-type", "f")
	if !res.OK() {
		return fromExec(name, r.plugin(), res, at, details)
	}
	files, audio := splitAudio(res.Stdout)
	details["fileCount"] = len(files)
	details["audioFileCount"] = len(audio)
	if len(audio) == 0 {
		return types.Failed(name, r.plugin(), errcode.ZeroAudioFiles,
			[]string{fmt.Sprintf("zero audio files under %s (%d files total)", dir, len(files))}, details)
	}

	sample := audio[:min(len(audio), tagSample)]
	var missing []string
	source := tagsInContainer
	for _, f := range sample {
		tags, res := r.probeTags(ctx, f, source)
		if !res.OK() && source == tagsInContainer && toolMissing(res) {
			r.logger.Info("ffprobe unavailable in container; probing copied files", "file", path.Base(f))
			source = tagsOnHost
			tags, res = r.probeTags(ctx, f, source)
		}
		if !res.OK() {
			if source == tagsOnHost {
				r.logger.Warn("ffprobe unavailable; tags not checked", "error", res.Err())
				details["tagsChecked"] = false
				details["tagsUncheckedReason"] = res.Err().Error()
				return types.Succeeded(name, r.plugin(), details)
			}
			return fromExec(name, r.plugin(), res, step{operation: "ffprobe", phase: "tags"}, details)
		}
		for _, t := range requiredTags {
			if strings.TrimSpace(tags[t]) == "" {
				missing = append(missing, path.Base(f)+": "+t)
			}
		}
	}
	details["tagsChecked"] = true
	details["tagsSource"] = source
	details["sampledFiles"] = baseNames(sample)
	if len(missing) > 0 {
		details["missingTags"] = missing
		return types.Failed(name, r.plugin(), errcode.MetadataMissing,
			[]string{fmt.Sprintf("metadata missing on %d of %d sampled files", countFiles(missing), len(sample))}, details)
	}
	return types.Succeeded(name, r.plugin(), details)
}

// needContainer returns a skip when the gate cannot reach the host
// container: no runtime, no name configured, no such container, or a
// container that is not running.
func (r *Runner) needContainer(ctx context.Context, gate string) *types.GateResult {
	if r.rt == nil {
		reason := "container runtime unavailable"
		if r.rtErr != nil {
			reason += ": " + r.rtErr.Error()
		}
		res := types.Skipped(gate, r.plugin(), reason, nil).WithCode(errcode.DockerUnavailable)
		return &res
	}
	name := strings.TrimSpace(r.cfg.Container.Name)
	if name == "" {
		res := types.Skipped(gate, r.plugin(), "container.name is not configured", nil)
		return &res
	}

	status, res := r.containerStatus(ctx, name)
	if !res.OK() {
		out := fromExec(gate, r.plugin(), res, step{operation: "ps " + name, phase: "preflight"}, nil)
		return &out
	}
	details := map[string]any{"container": name, "containerStatus": status}
	switch {
	case status == "":
		out := types.Skipped(gate, r.plugin(), "host container "+name+" not found", details).WithCode(errcode.DockerUnavailable)
		return &out
	case !isRunningStatus(status):
		out := types.Skipped(gate, r.plugin(), fmt.Sprintf("host container %s is not running (%s)", name, status), details).
			WithCode(errcode.DockerUnavailable)
		return &out
	}
	return nil
}

// containerStatus returns the status of the container called name, or ""
// when none exists. ps matches names only, so a container given by id is
// looked up with inspect.
func (r *Runner) containerStatus(ctx context.Context, name string) (string, container.Result) {
	res := r.rt.Ps(ctx, name)
	if !res.OK() {
		return "", res
	}
	for line := range strings.Lines(res.Stdout) {
		n, status, _ := strings.Cut(strings.TrimSpace(line), "\t")
		if n == name {
			return strings.TrimSpace(status), res
		}
	}
	ins := r.rt.Inspect(ctx, name, "{{.State.Status}}")
	if !ins.OK() {
		if ins.Kind == container.KindContainerNotFound {
			return "", container.Result{}
		}
		return "", ins
	}
	return strings.TrimSpace(ins.Stdout), ins
}

// isRunningStatus accepts both ps ("Up 2 hours") and inspect ("running")
// status forms.
func isRunningStatus(status string) bool {
	s := strings.ToLower(status)
	return strings.HasPrefix(s, "up") || s == "running"
}

// Where tags are read from.
const (
	tagsInContainer = "container"
	tagsOnHost      = "host"
)

var ffprobeArgs = []string{"-v", "error", "-show_entries", "format_tags=artist,album,title", "-of", "default=noprint_wrappers=1"}

// toolMissing reports whether res failed because the binary is absent.
func toolMissing(res container.Result) bool {
	return res.Kind == container.KindExecFailed || res.Kind == container.KindCLIMissing
}

// probeTags reads the format tags of file with ffprobe, inside the
// container or on a copy taken out with cp.
func (r *Runner) probeTags(ctx context.Context, file, source string) (map[string]string, container.Result) {
	if source == tagsOnHost {
		return r.probeCopiedTags(ctx, file)
	}
	args := append(append([]string{"ffprobe"}, ffprobeArgs...), file)
	res := r.rt.Exec(ctx, r.cfg.Container.Name, args...)
	if !res.OK() {
		return nil, res
	}
	return parseTags(res.Stdout), res
}

// probeCopiedTags copies file out of the container and runs the host's
// ffprobe on the copy.
func (r *Runner) probeCopiedTags(ctx context.Context, file string) (map[string]string, container.Result) {
	dir, err := os.MkdirTemp("", "plugin-e2e-tags-")
	if err != nil {
		return nil, container.Result{Command: "mkdtemp", ExitCode: -1, Stderr: err.Error(), Kind: container.KindUnknown}
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, path.Base(file))
	if res := r.rt.Cp(ctx, r.cfg.Container.Name+":"+file, local); !res.OK() {
		return nil, res
	}
	res := r.rt.Local(ctx, "ffprobe", append(slices.Clone(ffprobeArgs), local)...)
	if !res.OK() {
		return nil, res
	}
	return parseTags(res.Stdout), res
}

// parseTags reads ffprobe "TAG:key=value" lines into a lowercased map.
func parseTags(out string) map[string]string {
	tags := map[string]string{}
	for line := range strings.Lines(out) {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimPrefix(k, "TAG:"))
		tags[k] = strings.TrimSpace(v)
	}
	return tags
}

// splitAudio returns every listed file and the audio subset, both sorted.
func splitAudio(listing string) (files, audio []string) {
	for line := range strings.Lines(listing) {
		f := strings.TrimSpace(line)
		if f == "" {
			continue
		}
		files = append(files, f)
		if slices.Contains(audioExtensions, strings.ToLower(path.Ext(f))) {
			audio = append(audio, f)
		}
	}
	slices.Sort(files)
	slices.Sort(audio)
	return files, audio
}

func baseNames(files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = path.Base(f)
	}
	return out
}

// countFiles counts distinct files in "file: tag" entries.
func countFiles(missing []string) int {
	seen := map[string]bool{}
	for _, m := range missing {
		f, _, _ := strings.Cut(m, ": ")
		seen[f] = true
	}
	return len(seen)
}
