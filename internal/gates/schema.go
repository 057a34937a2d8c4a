// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gates

import (
	"context"
	"strings"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// pluginComponent is one component kind the plugin ships.
type pluginComponent struct {
	kind types.PluginKind
	impl string
}

// pluginComponents lists the configured components, indexer first.
func (r *Runner) pluginComponents() []pluginComponent {
	p := r.cfg.Plugin
	out := []pluginComponent{{types.KindIndexer, p.Implementation}}
	if p.DownloadClientImplementation != "" {
		out = append(out, pluginComponent{types.KindDownloadClient, p.DownloadClientImplementation})
	}
	if p.ImportListImplementation != "" {
		out = append(out, pluginComponent{types.KindImportList, p.ImportListImplementation})
	}
	return out
}

// runSchema checks that every component the plugin ships is registered in
// the host schema exactly once.
func runSchema(ctx context.Context, r *Runner, _ *state) types.GateResult {
	name := types.GateSchema
	if strings.TrimSpace(r.cfg.Plugin.Implementation) == "" {
		return types.Failed(name, r.plugin(), errcode.ConfigInvalid,
			[]string{"plugin.implementation must not be empty"}, nil)
	}

	checked := map[string]any{}
	for _, pc := range r.pluginComponents() {
		tmpl, err := r.lookupSchema(ctx, pc.kind, pc.impl)
		if err != nil {
			return fromError(name, r.plugin(), err,
				step{operation: "GET /" + string(pc.kind) + "/schema", phase: "schema"},
				map[string]any{"checked": checked})
		}
		checked[string(pc.kind)] = map[string]any{
			"implementation": tmpl.Implementation,
			"configContract": tmpl.ConfigContract,
			"fieldCount":     len(tmpl.Fields),
		}
	}
	return types.Succeeded(name, r.plugin(), map[string]any{"checked": checked})
}
