// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package router implements the Request Router (spec.md §4.C8): it turns a
// (scope, principal) pair into the concrete set of tools a downstream
// session should see — applying namespacing to disambiguate duplicate tool
// names across upstreams, and substituting the two smart-group synthetic
// tools when the scope resolves to `$smart` — and dispatches tools/call
// against the upstream supervisor or the vector index. It implements
// session.ToolLister, the seam the Downstream Session Manager (C7) uses to
// keep each session's mcp-go server in sync.
//
// Grounded on other_examples/stacklok-toolhive__aggregator.go's conflict
// resolution (`ResolvedTool{ResolvedName, OriginalName, BackendID}`) for the
// namespacing shape, and other_examples/stacklok-toolhive__router.go's
// `Router.RouteTool`/sentinel-error style for the dispatch contract.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcphub/hub/access"
	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/catalog"
	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/embeddings"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/session"
	"github.com/mcphub/hub/upstream"
)

const (
	toolSearchTools = "search_tools"
	toolCallTool    = "call_tool"

	defaultSearchK         = 10
	defaultSearchThreshold = 0.7
)

// Router is the Request Router. idx may be nil, in which case the smart
// scope still lists search_tools and call_tool, and search_tools fails with
// EmbedderUnavailable (smartRouting.enabled being false disables both the
// index and the scope, per spec.md §6's configuration-flag table).
type Router struct {
	store *config.Store
	sup   *upstream.Supervisor
	cat   *catalog.Catalog
	idx   *embeddings.Index
	log   logging.LogService
}

// New builds a Router.
func New(store *config.Store, sup *upstream.Supervisor, cat *catalog.Catalog, idx *embeddings.Index, log logging.LogService) *Router {
	return &Router{store: store, sup: sup, cat: cat, idx: idx, log: log}
}

// ListForScope implements session.ToolLister.
func (r *Router) ListForScope(scope string, principal auth.Principal) ([]session.ToolEntry, bool) {
	settings := r.store.Snapshot()
	res := access.Resolve(scope, principal, settings)
	if res.IsSmart {
		return r.smartToolEntries(scope, principal), true
	}
	return r.namespacedToolEntries(res, settings), false
}

type candidate struct {
	upstreamName string
	toolName     string
	desc         catalog.EffectiveToolDescriptor
}

func (r *Router) namespacedToolEntries(res access.Resolution, settings config.Settings) []session.ToolEntry {
	hideDegraded := settings.Flags.HideDegradedUpstreamsFromList

	var candidates []candidate
	nameCount := make(map[string]int)
	for _, ru := range res.Upstreams {
		if hideDegraded {
			rt, ok := r.sup.RuntimeFor(ru.UpstreamName)
			if !ok || !rt.IsReady() {
				continue
			}
		}
		for _, d := range r.cat.ListByUpstream(ru.UpstreamName) {
			if !d.Enabled || !ru.Allowed.Allows(d.ToolName) {
				continue
			}
			candidates = append(candidates, candidate{ru.UpstreamName, d.ToolName, d})
			nameCount[d.ToolName]++
		}
	}

	entries := make([]session.ToolEntry, 0, len(candidates))
	for _, c := range candidates {
		effectiveName := c.toolName
		if nameCount[c.toolName] > 1 {
			effectiveName = c.upstreamName + "__" + c.toolName
		}
		upstreamName, toolName := c.upstreamName, c.toolName
		entries = append(entries, session.ToolEntry{
			EffectiveName: effectiveName,
			Description:   c.desc.Description,
			InputSchema:   c.desc.InputSchema,
			Handler: func(ctx context.Context, arguments map[string]any) (*mcp.CallToolResult, error) {
				return r.callUpstream(ctx, upstreamName, toolName, arguments), nil
			},
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EffectiveName < entries[j].EffectiveName })
	return entries
}

func (r *Router) callUpstream(ctx context.Context, upstreamName, toolName string, arguments map[string]any) *mcp.CallToolResult {
	result, err := r.sup.CallTool(ctx, upstreamName, toolName, arguments)
	if err != nil {
		return wireError(err)
	}
	return toMCPResult(result)
}

// smartToolEntries builds the two synthetic tools exposed in the $smart
// scope (spec.md §6). Both handlers re-resolve scope/principal at call
// time rather than trusting a resolution captured at list time, since the
// meta-tools' description/schema never change and so would not otherwise
// be re-diffed by session.Refresh when only visibility changes.
func (r *Router) smartToolEntries(scope string, principal auth.Principal) []session.ToolEntry {
	return []session.ToolEntry{
		{
			EffectiveName: toolSearchTools,
			Description:   "Search the tool catalog by semantic similarity to a natural-language query.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":     map[string]any{"type": "string"},
					"k":         map[string]any{"type": "integer"},
					"threshold": map[string]any{"type": "number"},
				},
				"required": []any{"query"},
			},
			Handler: func(ctx context.Context, arguments map[string]any) (*mcp.CallToolResult, error) {
				return r.searchTools(ctx, scope, principal, arguments), nil
			},
		},
		{
			EffectiveName: toolCallTool,
			Description:   "Invoke a tool found via search_tools, by its upstream and tool name.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"upstreamName": map[string]any{"type": "string"},
					"toolName":     map[string]any{"type": "string"},
					"arguments":    map[string]any{"type": "object"},
				},
				"required": []any{"upstreamName", "toolName"},
			},
			Handler: func(ctx context.Context, arguments map[string]any) (*mcp.CallToolResult, error) {
				return r.callToolSmart(ctx, scope, principal, arguments), nil
			},
		},
	}
}

type searchHitView struct {
	UpstreamName string  `json:"upstreamName"`
	ToolName     string  `json:"toolName"`
	Description  string  `json:"description"`
	Confidence   float64 `json:"confidence"`
}

func (r *Router) searchTools(ctx context.Context, scope string, principal auth.Principal, arguments map[string]any) *mcp.CallToolResult {
	if r.idx == nil {
		return wireError(ErrEmbedderUnavailable)
	}

	query, _ := arguments["query"].(string)
	if query == "" {
		return wireError(fmt.Errorf("%w: query is required", ErrToolNotAllowed))
	}
	k := intArg(arguments["k"], defaultSearchK)
	threshold := floatArg(arguments["threshold"], defaultSearchThreshold)

	res := access.Resolve(scope, principal, r.store.Snapshot())
	visible := func(upstreamName, toolName string) bool { return visibleIn(res, upstreamName, toolName) }

	hits, err := r.idx.Search(ctx, query, k, threshold, visible)
	if err != nil {
		return wireError(err)
	}

	out := make([]searchHitView, 0, len(hits))
	for _, h := range hits {
		// A key absent from the live catalog is a stale embedding row that
		// reconciliation hasn't caught up on deleting yet; search must never
		// surface it (spec.md §4.C5).
		d, ok := r.cat.Get(catalog.Key{UpstreamName: h.UpstreamName, ToolName: h.ToolName})
		if !ok {
			continue
		}
		out = append(out, searchHitView{
			UpstreamName: h.UpstreamName,
			ToolName:     h.ToolName,
			Description:  d.Description,
			Confidence:   h.Similarity,
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return wireError(fmt.Errorf("marshal search_tools result: %w", err))
	}
	return mcp.NewToolResultText(string(data))
}

func (r *Router) callToolSmart(ctx context.Context, scope string, principal auth.Principal, arguments map[string]any) *mcp.CallToolResult {
	upstreamName, _ := arguments["upstreamName"].(string)
	toolName, _ := arguments["toolName"].(string)
	if upstreamName == "" || toolName == "" {
		return wireError(fmt.Errorf("%w: upstreamName and toolName are required", ErrToolNotAllowed))
	}
	innerArgs, _ := arguments["arguments"].(map[string]any)

	if _, ok := r.cat.Get(catalog.Key{UpstreamName: upstreamName, ToolName: toolName}); !ok {
		return wireError(fmt.Errorf("%w: %s/%s", ErrToolNotAllowed, upstreamName, toolName))
	}
	res := access.Resolve(scope, principal, r.store.Snapshot())
	if !visibleIn(res, upstreamName, toolName) {
		return wireError(fmt.Errorf("%w: %s/%s", ErrToolNotAllowed, upstreamName, toolName))
	}

	return r.callUpstream(ctx, upstreamName, toolName, innerArgs)
}

func intArg(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func floatArg(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}
