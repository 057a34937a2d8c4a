// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/hostapi"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// builtinImplementations are the components the host ships without plugins,
// lowercased. A schema holding only these means plugin loading is off.
var builtinImplementations = map[types.PluginKind][]string{
	types.KindIndexer: {
		"newznab", "torznab", "gazelle", "headphones", "iptorrents", "nyaa",
		"redacted", "torrentrssindexer", "filelist", "omgwtfnzbs", "torrentleech",
	},
	types.KindDownloadClient: {
		"sabnzbd", "nzbget", "nzbvortex", "pneumatic", "usenetblackhole",
		"torrentblackhole", "qbittorrent", "deluge", "transmission", "vuze",
		"rtorrent", "utorrent", "hadouken", "aria2", "flood",
		"torrentdownloadstation", "usenetdownloadstation", "freebox",
	},
	types.KindImportList: {
		"lidarrimport", "headphonesimport", "lastfmtag", "lastfmuser",
		"spotifyfollowedartists", "spotifyplaylist", "spotifysavedalbums",
		"musicbrainzseries",
	},
}

func isBuiltin(kind types.PluginKind, c hostapi.Component) bool {
	return slices.Contains(builtinImplementations[kind], strings.ToLower(c.Implementation))
}

// codedError carries an explicit error code to the result.
type codedError struct {
	code    string
	msg     string
	details map[string]any
}

func (e *codedError) Error() string { return e.msg }

// matchImplementation returns the components whose implementation or
// implementation name equals name, ignoring case.
func matchImplementation(list []hostapi.Component, name string) []hostapi.Component {
	var out []hostapi.Component
	for _, c := range list {
		if strings.EqualFold(c.Implementation, name) || strings.EqualFold(c.ImplementationName, name) {
			out = append(out, c)
		}
	}
	return out
}

func implementationNames(list []hostapi.Component) []string {
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Implementation)
	}
	sort.Strings(names)
	if len(names) > 50 {
		names = names[:50]
	}
	return names
}

// lookupSchema returns the single schema template for impl.
func (r *Runner) lookupSchema(ctx context.Context, kind types.PluginKind, impl string) (hostapi.Component, error) {
	schema, err := r.host.Schema(ctx, kind)
	if err != nil {
		return hostapi.Component{}, err
	}
	matches := matchImplementation(schema, impl)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		details := map[string]any{
			"kind":                     string(kind),
			"implementation":           impl,
			"availableImplementations": implementationNames(schema),
		}
		plugins := 0
		for _, c := range schema {
			if !isBuiltin(kind, c) {
				plugins++
			}
		}
		if plugins == 0 {
			return hostapi.Component{}, &codedError{
				code:    errcode.HostPluginDiscoveryDisabled,
				msg:     fmt.Sprintf("%s schema lists no plugin implementations; plugin discovery looks disabled", kind),
				details: details,
			}
		}
		return hostapi.Component{}, &codedError{
			code:    errcode.SchemaMissingImplementation,
			msg:     fmt.Sprintf("implementation %s not found in the %s schema", impl, kind),
			details: details,
		}
	default:
		return hostapi.Component{}, &codedError{
			code: errcode.ComponentAmbiguous,
			msg:  fmt.Sprintf("%d %s implementations match %s", len(matches), kind, impl),
			details: map[string]any{
				"kind":           string(kind),
				"implementation": impl,
				"matches":        implementationNames(matches),
			},
		}
	}
}

// ensured describes a component found or created for the run.
type ensured struct {
	comp    hostapi.Component
	reused  bool
	applied []string
	ignored []string
}

func (e ensured) details() map[string]any {
	d := map[string]any{
		"componentId":    e.comp.ID,
		"implementation": e.comp.Implementation,
		"reused":         e.reused,
		"appliedFields":  e.applied,
	}
	if len(e.ignored) > 0 {
		d["ignoredFields"] = e.ignored
	}
	return d
}

// ensureComponent returns the configured component of kind, creating it
// from the schema template when none exists. Configured plugin fields are
// applied either way. When several components already use impl the one
// with the lowest id is used.
func (r *Runner) ensureComponent(ctx context.Context, kind types.PluginKind, impl string) (ensured, error) {
	tmpl, err := r.lookupSchema(ctx, kind, impl)
	if err != nil {
		return ensured{}, err
	}
	existing, err := r.host.List(ctx, kind)
	if err != nil {
		return ensured{}, err
	}

	if found := matchImplementation(existing, impl); len(found) > 0 {
		sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
		comp := found[0]
		applied, ignored, changed := applyFields(&comp, r.cfg.Plugin.Fields)
		if changed {
			if comp, err = r.host.Update(ctx, kind, comp); err != nil {
				return ensured{}, err
			}
		}
		return ensured{comp: comp, reused: true, applied: applied, ignored: ignored}, nil
	}

	comp := tmpl
	comp.ID = 0
	comp.Name = r.componentName()
	enable := true
	comp.Enable = &enable
	if comp.Tags == nil {
		comp.Tags = []int{}
	}
	applied, ignored, _ := applyFields(&comp, r.cfg.Plugin.Fields)
	created, err := r.host.Create(ctx, kind, comp)
	if err != nil {
		return ensured{}, err
	}
	r.logger.Info("created component", "kind", kind, "id", created.ID, "implementation", created.Implementation)
	r.created = append(r.created, createdComponent{kind: kind, id: created.ID})
	return ensured{comp: created, applied: applied, ignored: ignored}, nil
}

func (r *Runner) componentName() string {
	return r.plugin() + " (e2e)"
}

// applyFields copies configured values onto comp's fields, coercing to the
// field type. It returns the applied and unknown field names, sorted, and
// whether any value changed.
func applyFields(comp *hostapi.Component, values map[string]string) (applied, ignored []string, changed bool) {
	applied, ignored = []string{}, nil
	for name, raw := range values {
		f, ok := comp.Field(name)
		if !ok {
			ignored = append(ignored, name)
			continue
		}
		v := coerce(f.Type, raw)
		if fmt.Sprint(f.Value) != fmt.Sprint(v) {
			changed = true
		}
		comp.SetField(name, v)
		applied = append(applied, f.Name)
	}
	sort.Strings(applied)
	sort.Strings(ignored)
	return applied, ignored, changed
}

func coerce(fieldType, raw string) any {
	switch strings.ToLower(fieldType) {
	case "number":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case "checkbox":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

// createdComponent is a component this run added to the host.
type createdComponent struct {
	kind types.PluginKind
	id   int
}

// cleanup deletes the components the run created, newest first. Failures
// are logged. A component already gone counts as deleted.
func (r *Runner) cleanup(ctx context.Context) {
	for i := len(r.created) - 1; i >= 0; i-- {
		c := r.created[i]
		err := r.host.Delete(ctx, c.kind, c.id)
		switch {
		case err == nil, errors.Is(err, hostapi.ErrNotFound):
			r.logger.Info("deleted component", "kind", c.kind, "id", c.id)
		default:
			r.logger.Warn("could not delete component", "kind", c.kind, "id", c.id, "error", err)
		}
	}
	r.created = nil
}
