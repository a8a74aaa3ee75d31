// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"fmt"
	"testing"

	"github.com/mcphub/hub/logging"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	dim       int
	failNext  bool
	callCount int
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.callCount++
	if f.failNext {
		return nil, fmt.Errorf("embedder unavailable")
	}
	return vecFor(text, f.dim), nil
}

func (f *fakeEmbedder) BatchCreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.callCount++
	if f.failNext {
		return nil, fmt.Errorf("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vecFor(t, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

func vecFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(len(text)%7) + float32(i)*0.01
	}
	return v
}

type fakeStore struct {
	rows    map[string]ToolEmbedding
	cleared int
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]ToolEmbedding{}} }

func storeKey(upstream, tool string) string { return upstream + "/" + tool }

func (s *fakeStore) Upsert(_ context.Context, rows []ToolEmbedding) error {
	for _, r := range rows {
		s.rows[storeKey(r.UpstreamName, r.ToolName)] = r
	}
	return nil
}

func (s *fakeStore) DeleteByUpstream(_ context.Context, upstreamName string) error {
	for k, r := range s.rows {
		if r.UpstreamName == upstreamName {
			delete(s.rows, k)
		}
	}
	return nil
}

func (s *fakeStore) DeleteByKey(_ context.Context, upstreamName, toolName string) error {
	delete(s.rows, storeKey(upstreamName, toolName))
	return nil
}

func (s *fakeStore) Search(_ context.Context, query []float32, topK int) ([]SearchHit, error) {
	hits := make([]SearchHit, 0, len(s.rows))
	for _, r := range s.rows {
		hits = append(hits, SearchHit{
			UpstreamName: r.UpstreamName,
			ToolName:     r.ToolName,
			Similarity:   cosineSimilarity(query, r.Vector),
			Text:         r.Text,
		})
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *fakeStore) Clear(_ context.Context) error {
	s.cleared++
	s.rows = map[string]ToolEmbedding{}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(v float64) float64 {
	if v == 0 {
		return 0
	}
	x := v
	for i := 0; i < 30; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func TestUpsertManySkipsUnchangedText(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := newFakeStore()
	ix := New(embedder, store, logging.NewNoop(), 0)

	items := []UpsertItem{{UpstreamName: "wiki", ToolName: "search", Text: "search the wiki"}}
	require.NoError(t, ix.UpsertMany(context.Background(), items))
	require.Equal(t, 1, embedder.callCount)

	require.NoError(t, ix.UpsertMany(context.Background(), items))
	require.Equal(t, 1, embedder.callCount, "unchanged text must not be re-embedded")

	items[0].Text = "search the wiki (updated)"
	require.NoError(t, ix.UpsertMany(context.Background(), items))
	require.Equal(t, 2, embedder.callCount)
}

func TestUpsertManyFailureLeavesPriorRowIntact(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := newFakeStore()
	ix := New(embedder, store, logging.NewNoop(), 0)

	items := []UpsertItem{{UpstreamName: "wiki", ToolName: "search", Text: "v1"}}
	require.NoError(t, ix.UpsertMany(context.Background(), items))

	embedder.failNext = true
	items[0].Text = "v2"
	err := ix.UpsertMany(context.Background(), items)
	require.Error(t, err)

	require.Equal(t, "v1", store.rows[storeKey("wiki", "search")].Text)

	embedder.failNext = false
	require.NoError(t, ix.UpsertMany(context.Background(), items))
	require.Equal(t, "v2", store.rows[storeKey("wiki", "search")].Text)
}

func TestUpsertManyRebuildsOnDimensionChange(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := newFakeStore()
	ix := New(embedder, store, logging.NewNoop(), 0)

	require.NoError(t, ix.UpsertMany(context.Background(), []UpsertItem{
		{UpstreamName: "wiki", ToolName: "search", Text: "v1"},
	}))
	require.Equal(t, 4, ix.Dimensions())

	embedder.dim = 8
	require.NoError(t, ix.UpsertMany(context.Background(), []UpsertItem{
		{UpstreamName: "wiki", ToolName: "create-page", Text: "v1"},
	}))

	require.Equal(t, 8, ix.Dimensions())
	require.Equal(t, 1, store.cleared)
}

func TestDeleteByUpstreamAndKeyClearCache(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := newFakeStore()
	ix := New(embedder, store, logging.NewNoop(), 0)

	require.NoError(t, ix.UpsertMany(context.Background(), []UpsertItem{
		{UpstreamName: "wiki", ToolName: "search", Text: "v1"},
		{UpstreamName: "wiki", ToolName: "create-page", Text: "v1"},
	}))

	require.NoError(t, ix.DeleteByKey(context.Background(), "wiki", "search"))
	require.NotContains(t, store.rows, storeKey("wiki", "search"))

	require.NoError(t, ix.DeleteByUpstream(context.Background(), "wiki"))
	require.Empty(t, store.rows)

	// re-inserting the same text after deletion must re-embed, since the
	// cache entry was purged.
	before := embedder.callCount
	require.NoError(t, ix.UpsertMany(context.Background(), []UpsertItem{
		{UpstreamName: "wiki", ToolName: "search", Text: "v1"},
	}))
	require.Greater(t, embedder.callCount, before)
}

func TestSearchAppliesThresholdAndVisibility(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := newFakeStore()
	ix := New(embedder, store, logging.NewNoop(), 4)

	require.NoError(t, store.Upsert(context.Background(), []ToolEmbedding{
		{UpstreamName: "wiki", ToolName: "search", Text: "search the wiki", Vector: []float32{1, 0, 0, 0}},
		{UpstreamName: "wiki", ToolName: "hidden", Text: "search the wiki", Vector: []float32{1, 0, 0, 0}},
		{UpstreamName: "jira", ToolName: "search-issues", Text: "totally different", Vector: []float32{0, 1, 0, 0}},
	}))

	hits, err := ix.Search(context.Background(), "search the wiki", 5, 0.5, func(upstreamName, toolName string) bool {
		return toolName != "hidden"
	})
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, "hidden", h.ToolName)
	}
}
