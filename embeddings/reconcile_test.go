// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mcphub/hub/catalog"
	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/transport"
	"github.com/mcphub/hub/upstream"
	"github.com/stretchr/testify/require"
)

// toolsHolder lets a test mutate the tool list a stubClient reports after
// construction, so a keep-alive tick can observe a changed list.
type toolsHolder struct {
	mu    sync.Mutex
	tools []transport.ToolDescriptor
}

func (h *toolsHolder) set(tools []transport.ToolDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools = tools
}

func (h *toolsHolder) get() []transport.ToolDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]transport.ToolDescriptor, len(h.tools))
	copy(out, h.tools)
	return out
}

// stubClient is a minimal transport.Client double, mirroring
// catalog.stubClient, for driving the supervisor/catalog pair that feeds the
// reconciler under test.
type stubClient struct {
	holder *toolsHolder
}

func (s *stubClient) Initialize(context.Context) (transport.ServerInfo, error) { return transport.ServerInfo{}, nil }
func (s *stubClient) ListTools(context.Context) ([]transport.ToolDescriptor, error) {
	return s.holder.get(), nil
}
func (s *stubClient) CallTool(context.Context, string, map[string]any) (transport.CallResult, error) {
	return transport.CallResult{}, nil
}
func (s *stubClient) Ping(context.Context) error { return nil }
func (s *stubClient) Close() error               { return nil }
func (s *stubClient) LastError() error           { return nil }

func setupCatalog(t *testing.T, tools []transport.ToolDescriptor) (*config.Store, *catalog.Catalog, *toolsHolder) {
	t.Helper()

	holder := &toolsHolder{tools: tools}

	store := config.NewStore(&config.Settings{
		Upstreams: []config.UpstreamSpec{{
			Name:                "wiki",
			Kind:                config.KindStdio,
			Stdio:               &config.StdioParams{Command: "/bin/true"},
			Enabled:             true,
			KeepAliveIntervalMs: 20,
		}},
		Flags: config.DefaultSystemFlags(),
	}, nil, logging.NewNoop())

	sup := upstream.NewSupervisor(store, logging.NewNoop(), http.DefaultClient)
	restore := upstream.SetTransportFactoryForTest(func(_ context.Context, spec config.UpstreamSpec, _ logging.LogService, _ *http.Client) (transport.Client, error) {
		if spec.Name != "wiki" {
			return nil, fmt.Errorf("unexpected upstream %q", spec.Name)
		}
		return &stubClient{holder: holder}, nil
	})
	t.Cleanup(restore)

	sup.Start()
	t.Cleanup(sup.Stop)

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == upstream.StateReady
	}, 2*time.Second, 10*time.Millisecond)

	cat := catalog.New(store, sup, logging.NewNoop())
	cat.Start()
	t.Cleanup(cat.Stop)

	return store, cat, holder
}

func TestReconcilerStartUpsertsExistingCatalogContents(t *testing.T) {
	_, cat, _ := setupCatalog(t, []transport.ToolDescriptor{
		{Name: "search", Description: "search the wiki"},
	})
	require.Eventually(t, func() bool { return len(cat.List()) == 1 }, 2*time.Second, 10*time.Millisecond)

	embedder := &fakeEmbedder{dim: 4}
	vstore := newFakeStore()
	idx := New(embedder, vstore, logging.NewNoop(), 0)

	r := NewReconciler(cat, idx, logging.NewNoop())
	token := r.Start(context.Background())
	defer r.Stop(token)

	require.Contains(t, vstore.rows, storeKey("wiki", "search"))
	require.Equal(t, "search: search the wiki", vstore.rows[storeKey("wiki", "search")].Text)
}

func TestReconcilerUpsertsOnCatalogDiff(t *testing.T) {
	store, cat, _ := setupCatalog(t, []transport.ToolDescriptor{
		{Name: "search", Description: "search the wiki"},
	})
	require.Eventually(t, func() bool { return len(cat.List()) == 1 }, 2*time.Second, 10*time.Millisecond)

	embedder := &fakeEmbedder{dim: 4}
	vstore := newFakeStore()
	idx := New(embedder, vstore, logging.NewNoop(), 0)

	r := NewReconciler(cat, idx, logging.NewNoop())
	token := r.Start(context.Background())
	defer r.Stop(token)

	_, err := store.Mutate(func(s *config.Settings) error {
		s.Upstreams[0].Tools = map[string]config.ToolOverlay{
			"search": {DescriptionOverride: "renamed"},
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return vstore.rows[storeKey("wiki", "search")].Text == "search: renamed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcilerDeletesByKeyWhenUpstreamKeepsOtherTools(t *testing.T) {
	_, cat, holder := setupCatalog(t, []transport.ToolDescriptor{
		{Name: "search", Description: "search the wiki"},
		{Name: "create-page", Description: "create a page"},
	})
	require.Eventually(t, func() bool { return len(cat.List()) == 2 }, 2*time.Second, 10*time.Millisecond)

	embedder := &fakeEmbedder{dim: 4}
	vstore := newFakeStore()
	idx := New(embedder, vstore, logging.NewNoop(), 0)

	r := NewReconciler(cat, idx, logging.NewNoop())
	token := r.Start(context.Background())
	defer r.Stop(token)

	require.Contains(t, vstore.rows, storeKey("wiki", "search"))
	require.Contains(t, vstore.rows, storeKey("wiki", "create-page"))

	// The upstream itself stays up but its next tools/list only reports
	// create-page, so the catalog drops "search" while "wiki" remains
	// registered — the DeleteByKey branch, not DeleteByUpstream.
	holder.set([]transport.ToolDescriptor{
		{Name: "create-page", Description: "create a page"},
	})

	require.Eventually(t, func() bool {
		_, gone := vstore.rows[storeKey("wiki", "search")]
		_, stillThere := vstore.rows[storeKey("wiki", "create-page")]
		return !gone && stillThere
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcilerDeletesByUpstreamWhenLastToolRemoved(t *testing.T) {
	store, cat, _ := setupCatalog(t, []transport.ToolDescriptor{
		{Name: "search", Description: "search the wiki"},
	})
	require.Eventually(t, func() bool { return len(cat.List()) == 1 }, 2*time.Second, 10*time.Millisecond)

	embedder := &fakeEmbedder{dim: 4}
	vstore := newFakeStore()
	idx := New(embedder, vstore, logging.NewNoop(), 0)

	r := NewReconciler(cat, idx, logging.NewNoop())
	token := r.Start(context.Background())
	defer r.Stop(token)

	require.Contains(t, vstore.rows, storeKey("wiki", "search"))

	_, err := store.Mutate(func(s *config.Settings) error {
		s.Upstreams[0].Enabled = false
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(vstore.rows) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
