// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package embeddings implements the Vector Index (spec.md §4.C5): a
// persistent, queryable embedding store over tool descriptors, built from
// an Embedder collaborator plus a VectorStore storage driver. The split
// mirrors the teacher's embeddings.CompositeSearch
// (EmbeddingProvider + VectorStore), repurposed from "chunked forum posts"
// to "one row per tool".
package embeddings

import (
	"context"
	"time"
)

// ToolEmbedding is one persisted row (spec.md §3 "ToolEmbedding").
type ToolEmbedding struct {
	UpstreamName string
	ToolName     string
	Text         string
	Vector       []float32
	Dimensions   int
	UpdatedAt    time.Time
}

// UpsertItem is one candidate row for Index.UpsertMany: the tool's current
// key and the text that should be embedded for it.
type UpsertItem struct {
	UpstreamName string
	ToolName     string
	Text         string
}

// SearchHit is one ranked result from Index.Search.
type SearchHit struct {
	UpstreamName string
	ToolName     string
	Similarity   float64
	Text         string
}

// Embedder turns text into dense vectors, grounded on the teacher's
// EmbeddingProvider (openai.OpenAI.CreateEmbedding/BatchCreateEmbeddings).
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// VectorStore is the storage driver collaborator, grounded on the teacher's
// postgres.PGVector (Store/Search/Delete/Clear over llm_posts_embeddings).
type VectorStore interface {
	Upsert(ctx context.Context, rows []ToolEmbedding) error
	DeleteByUpstream(ctx context.Context, upstreamName string) error
	DeleteByKey(ctx context.Context, upstreamName, toolName string) error
	// Search returns the topK candidates by cosine similarity, ascending
	// (upstreamName, toolName) as a tie-break, without any threshold or
	// visibility filtering applied — the Index applies both.
	Search(ctx context.Context, query []float32, topK int) ([]SearchHit, error)
	Clear(ctx context.Context) error
}
