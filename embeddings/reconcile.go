// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"

	"github.com/mcphub/hub/catalog"
	"github.com/mcphub/hub/logging"
)

// Reconciler is the single catalog-reconciliation task of spec.md §5: it
// keeps the Vector Index in step with the Tool Catalog by mapping every
// catalog.Diff onto the corresponding UpsertMany/DeleteByKey/
// DeleteByUpstream calls. Grounded on catalog.Catalog's own
// store-diff-driven recompute (catalog/catalog.go), generalized from
// "recompute a projection" to "reconcile a second, external store against
// one".
type Reconciler struct {
	cat *catalog.Catalog
	idx *Index
	log logging.LogService
}

// NewReconciler builds a Reconciler. Call Start to perform the initial sync
// and subscribe to future catalog versions.
func NewReconciler(cat *catalog.Catalog, idx *Index, log logging.LogService) *Reconciler {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Reconciler{cat: cat, idx: idx, log: log}
}

// Start reconciles the index against the catalog's current contents, then
// subscribes to every subsequent version bump, returning the subscription
// token for Stop.
func (r *Reconciler) Start(ctx context.Context) int {
	r.reconcileAll(ctx)
	return r.cat.Subscribe(func(_, _ int, diff catalog.Diff) {
		r.reconcile(ctx, diff)
	})
}

// Stop unsubscribes from the catalog.
func (r *Reconciler) Stop(token int) {
	r.cat.Unsubscribe(token)
}

// reconcileAll upserts every descriptor currently in the catalog, for the
// case where the index was empty (e.g. fresh process start) and the
// catalog had already converged before Start was called.
func (r *Reconciler) reconcileAll(ctx context.Context) {
	entries := r.cat.List()
	items := make([]UpsertItem, 0, len(entries))
	for _, d := range entries {
		items = append(items, upsertItemFor(d))
	}
	if err := r.idx.UpsertMany(ctx, items); err != nil {
		r.log.Error("initial vector index reconciliation failed", "count", len(items), "error", err)
	}
}

// reconcile maps one catalog.Diff onto the index: Added/Modified keys are
// re-embedded (UpsertMany only re-embeds rows whose text actually changed,
// per spec.md §4.C5's idempotence law), and Removed keys are deleted —
// DeleteByUpstream when an upstream's last remaining tool disappeared,
// DeleteByKey otherwise.
func (r *Reconciler) reconcile(ctx context.Context, diff catalog.Diff) {
	var items []UpsertItem
	for _, k := range diff.Added {
		if d, ok := r.cat.Get(k); ok {
			items = append(items, upsertItemFor(d))
		}
	}
	for _, k := range diff.Modified {
		if d, ok := r.cat.Get(k); ok {
			items = append(items, upsertItemFor(d))
		}
	}
	if len(items) > 0 {
		if err := r.idx.UpsertMany(ctx, items); err != nil {
			r.log.Error("vector index upsert failed", "count", len(items), "error", err)
		}
	}

	removedByUpstream := make(map[string][]string, len(diff.Removed))
	for _, k := range diff.Removed {
		removedByUpstream[k.UpstreamName] = append(removedByUpstream[k.UpstreamName], k.ToolName)
	}
	for upstreamName, toolNames := range removedByUpstream {
		if len(r.cat.ListByUpstream(upstreamName)) == 0 {
			if err := r.idx.DeleteByUpstream(ctx, upstreamName); err != nil {
				r.log.Error("vector index delete-by-upstream failed", "upstream", upstreamName, "error", err)
			}
			continue
		}
		for _, toolName := range toolNames {
			if err := r.idx.DeleteByKey(ctx, upstreamName, toolName); err != nil {
				r.log.Error("vector index delete failed", "upstream", upstreamName, "tool", toolName, "error", err)
			}
		}
	}
}

func upsertItemFor(d catalog.EffectiveToolDescriptor) UpsertItem {
	return UpsertItem{
		UpstreamName: d.UpstreamName,
		ToolName:     d.ToolName,
		Text:         embeddingText(d),
	}
}

// embeddingText is the text embedded for one tool: its name plus its
// effective description, the same pair a downstream client sees in
// tools/list.
func embeddingText(d catalog.EffectiveToolDescriptor) string {
	if d.Description == "" {
		return d.ToolName
	}
	return d.ToolName + ": " + d.Description
}
