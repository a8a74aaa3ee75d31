// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcphub/hub/logging"
)

// Index is the Vector Index (spec.md §4.C5), composing an Embedder and a
// VectorStore the way the teacher's CompositeSearch composes an
// EmbeddingProvider and a VectorStore, minus chunking (tool descriptors are
// embedded whole, one row per tool, per spec.md's storage model).
type Index struct {
	embedder Embedder
	store    VectorStore
	log      logging.LogService

	mu        sync.Mutex
	dim       int
	knownText map[key]string
}

type key struct {
	upstreamName string
	toolName     string
}

// New builds an Index. dim, if non-zero, seeds the fixed dimensionality
// that the first UpsertMany call would otherwise establish.
func New(embedder Embedder, store VectorStore, log logging.LogService, dim int) *Index {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Index{
		embedder:  embedder,
		store:     store,
		log:       log,
		dim:       dim,
		knownText: make(map[key]string),
	}
}

// UpsertMany embeds and stores only the rows whose text changed since the
// last successful upsert (spec.md §4.C5 upsertMany). A batch embedding
// failure leaves the prior rows untouched and their cached text
// unadvanced, so the next reconciliation retries them.
func (ix *Index) UpsertMany(ctx context.Context, items []UpsertItem) error {
	ix.mu.Lock()
	var toEmbed []UpsertItem
	for _, it := range items {
		k := key{it.UpstreamName, it.ToolName}
		if ix.knownText[k] == it.Text {
			continue
		}
		toEmbed = append(toEmbed, it)
	}
	ix.mu.Unlock()

	if len(toEmbed) == 0 {
		return nil
	}

	texts := make([]string, len(toEmbed))
	for i, it := range toEmbed {
		texts[i] = it.Text
	}

	vectors, err := ix.embedder.BatchCreateEmbeddings(ctx, texts)
	if err != nil {
		ix.log.Error("failed to embed tool batch, leaving prior rows intact", "count", len(toEmbed), "error", err)
		return fmt.Errorf("batch embed %d tools: %w", len(toEmbed), err)
	}

	rows := make([]ToolEmbedding, 0, len(toEmbed))
	now := time.Now()

	ix.mu.Lock()
	for i, it := range toEmbed {
		vec := vectors[i]
		if ix.dim == 0 {
			ix.dim = len(vec)
		} else if len(vec) != ix.dim {
			ix.log.Warn("embedding dimension changed, rebuilding vector index", "oldDim", ix.dim, "newDim", len(vec))
			ix.dim = len(vec)
			ix.knownText = make(map[key]string)
			if cerr := ix.store.Clear(ctx); cerr != nil {
				ix.mu.Unlock()
				return fmt.Errorf("clear vector store for dimension rebuild: %w", cerr)
			}
		}
		rows = append(rows, ToolEmbedding{
			UpstreamName: it.UpstreamName,
			ToolName:     it.ToolName,
			Text:         it.Text,
			Vector:       vec,
			Dimensions:   ix.dim,
			UpdatedAt:    now,
		})
	}
	ix.mu.Unlock()

	if err := ix.store.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("upsert %d tool embeddings: %w", len(rows), err)
	}

	ix.mu.Lock()
	for _, it := range toEmbed {
		ix.knownText[key{it.UpstreamName, it.ToolName}] = it.Text
	}
	ix.mu.Unlock()

	return nil
}

// DeleteByUpstream removes every row for one upstream (spec.md §4.C5).
func (ix *Index) DeleteByUpstream(ctx context.Context, upstreamName string) error {
	if err := ix.store.DeleteByUpstream(ctx, upstreamName); err != nil {
		return fmt.Errorf("delete upstream %q embeddings: %w", upstreamName, err)
	}
	ix.mu.Lock()
	for k := range ix.knownText {
		if k.upstreamName == upstreamName {
			delete(ix.knownText, k)
		}
	}
	ix.mu.Unlock()
	return nil
}

// DeleteByKey removes one row.
func (ix *Index) DeleteByKey(ctx context.Context, upstreamName, toolName string) error {
	if err := ix.store.DeleteByKey(ctx, upstreamName, toolName); err != nil {
		return fmt.Errorf("delete %q/%q embedding: %w", upstreamName, toolName, err)
	}
	ix.mu.Lock()
	delete(ix.knownText, key{upstreamName, toolName})
	ix.mu.Unlock()
	return nil
}

// Visible reports whether one (upstreamName, toolName) key should be
// returned to the caller performing a search; the Request Router supplies
// this from the resolved access scope.
type Visible func(upstreamName, toolName string) bool

// Search embeds query, retrieves candidates by cosine similarity, applies
// threshold and the caller's visibility filter, then returns the top k,
// tie-breaking equal similarities by (upstreamName, toolName) ascending
// (spec.md §4.C5 search).
func (ix *Index) Search(ctx context.Context, query string, k int, threshold float64, visible Visible) ([]SearchHit, error) {
	queryVector, err := ix.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed search query: %w", err)
	}

	// Over-fetch so that post-filtering by visibility or threshold doesn't
	// starve the final top-k (spec.md §4.C5: "filtered against the current
	// catalog before return").
	candidates, err := ix.store.Search(ctx, queryVector, k*4+16)
	if err != nil {
		return nil, fmt.Errorf("search vector store: %w", err)
	}

	filtered := candidates[:0:0]
	for _, c := range candidates {
		if c.Similarity < threshold {
			continue
		}
		if visible != nil && !visible(c.UpstreamName, c.ToolName) {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		if filtered[i].UpstreamName != filtered[j].UpstreamName {
			return filtered[i].UpstreamName < filtered[j].UpstreamName
		}
		return filtered[i].ToolName < filtered[j].ToolName
	})

	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// Dimensions returns the dimensionality fixed by the first successful
// write, or 0 if nothing has been embedded yet.
func (ix *Index) Dimensions() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.dim
}
