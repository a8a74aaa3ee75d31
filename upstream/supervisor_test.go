// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package upstream

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/transport"
	"github.com/stretchr/testify/require"
)

// fakeClient is a hand-rolled transport.Client double, standing in for a
// real stdio/sse/http-stream/openapi connection so the reconciliation state
// machine can be driven deterministically without processes or sockets.
type fakeClient struct {
	mu        sync.Mutex
	info      transport.ServerInfo
	tools     []transport.ToolDescriptor
	initErr   error
	listErr   error
	pingErr   error
	callErr   error
	callRes   transport.CallResult
	callBlock bool
	closed    bool
	pingCalls int32
}

func (f *fakeClient) Initialize(context.Context) (transport.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.initErr
}

func (f *fakeClient) ListTools(context.Context) ([]transport.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools, f.listErr
}

func (f *fakeClient) CallTool(ctx context.Context, _ string, _ map[string]any) (transport.CallResult, error) {
	f.mu.Lock()
	block := f.callBlock
	res, err := f.callRes, f.callErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return transport.CallResult{}, ctx.Err()
	}
	return res, err
}

func (f *fakeClient) Ping(context.Context) error {
	atomic.AddInt32(&f.pingCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) LastError() error { return nil }

// fakeFactory stands in for transport.New, handing out (or reusing) one
// fakeClient per upstream name and counting how many times each was built,
// so tests can assert a connection-relevant change reconnects while an
// overlay-only change does not.
type fakeFactory struct {
	mu         sync.Mutex
	clients    map[string]*fakeClient
	buildCount map[string]int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: map[string]*fakeClient{}, buildCount: map[string]int{}}
}

func (f *fakeFactory) withClient(name string, c *fakeClient) *fakeFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[name] = c
	return f
}

func (f *fakeFactory) builds(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buildCount[name]
}

func (f *fakeFactory) New(_ context.Context, spec config.UpstreamSpec, _ logging.LogService, _ *http.Client) (transport.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildCount[spec.Name]++
	c, ok := f.clients[spec.Name]
	if !ok {
		return nil, fmt.Errorf("no fake client registered for %q", spec.Name)
	}
	return c, nil
}

func stubUpstream(name string) config.UpstreamSpec {
	return config.UpstreamSpec{
		Name:    name,
		Kind:    config.KindStdio,
		Stdio:   &config.StdioParams{Command: "/bin/true"},
		Enabled: true,
	}
}

func newTestSupervisor(t *testing.T, factory *fakeFactory, initial *config.Settings) (*Supervisor, *config.Store) {
	t.Helper()
	old := newTransportClient
	newTransportClient = factory.New
	t.Cleanup(func() { newTransportClient = old })

	store := config.NewStore(initial, nil, logging.NewNoop())
	sup := NewSupervisor(store, logging.NewNoop(), http.DefaultClient)
	return sup, store
}

func TestSupervisorBringsDeclaredUpstreamToReady(t *testing.T) {
	client := &fakeClient{tools: []transport.ToolDescriptor{{Name: "search"}}}
	factory := newFakeFactory().withClient("wiki", client)

	sup, _ := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     config.DefaultSystemFlags(),
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	rt, ok := sup.RuntimeFor("wiki")
	require.True(t, ok)
	require.Len(t, rt.Tools, 1)
	require.Equal(t, "search", rt.Tools[0].Name)
}

func TestSupervisorDegradesOnInitializeFailure(t *testing.T) {
	client := &fakeClient{initErr: fmt.Errorf("connection refused")}
	factory := newFakeFactory().withClient("wiki", client)

	sup, _ := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     config.DefaultSystemFlags(),
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateDegraded
	}, 2*time.Second, 10*time.Millisecond)

	rt, _ := sup.RuntimeFor("wiki")
	require.Error(t, rt.LastError)
	require.GreaterOrEqual(t, rt.ConsecutiveFailures, 1)
	require.False(t, rt.NextRetryAt.IsZero())
}

func TestSupervisorRemovesDisabledUpstream(t *testing.T) {
	client := &fakeClient{}
	factory := newFakeFactory().withClient("wiki", client)

	sup, store := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     config.DefaultSystemFlags(),
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	_, err := store.Mutate(func(s *config.Settings) error {
		s.Upstreams[0].Enabled = false
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := sup.RuntimeFor("wiki")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisorOverlayOnlyChangeDoesNotReconnect(t *testing.T) {
	client := &fakeClient{tools: []transport.ToolDescriptor{{Name: "search"}}}
	factory := newFakeFactory().withClient("wiki", client)

	sup, store := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     config.DefaultSystemFlags(),
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, factory.builds("wiki"))

	disabled := false
	_, err := store.Mutate(func(s *config.Settings) error {
		s.Upstreams[0].Tools = map[string]config.ToolOverlay{
			"search": {Enabled: &disabled, DescriptionOverride: "renamed"},
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.Spec.Tools["search"].DescriptionOverride == "renamed"
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, factory.builds("wiki"), "overlay-only change must not reconnect the transport")
}

func TestSupervisorRestartsOnConnectionFieldChange(t *testing.T) {
	client := &fakeClient{}
	factory := newFakeFactory().withClient("wiki", client)

	sup, store := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     config.DefaultSystemFlags(),
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, factory.builds("wiki"))

	_, err := store.Mutate(func(s *config.Settings) error {
		s.Upstreams[0].Stdio.Command = "/bin/false"
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return factory.builds("wiki") >= 2
	}, 2*time.Second, 10*time.Millisecond, "changing the launch command must reconnect")
}

func TestSupervisorCallToolForwardsOnlyWhenReady(t *testing.T) {
	client := &fakeClient{callRes: transport.CallResult{Content: []transport.ContentBlock{{Kind: transport.ContentText, Text: "ok"}}}}
	factory := newFakeFactory().withClient("wiki", client)

	sup, _ := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     config.DefaultSystemFlags(),
	})
	sup.Start()
	defer sup.Stop()

	_, err := sup.CallTool(context.Background(), "unknown", "search", nil)
	require.ErrorIs(t, err, ErrUnknownUpstream)

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	res, err := sup.CallTool(context.Background(), "wiki", "search", map[string]any{"q": "x"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, "ok", res.Content[0].Text)
}

func TestSupervisorCallToolEnforcesCallTimeout(t *testing.T) {
	client := &fakeClient{callBlock: true}
	factory := newFakeFactory().withClient("wiki", client)

	flags := config.DefaultSystemFlags()
	flags.CallTimeoutMs = 20
	sup, _ := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     flags,
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	_, err := sup.CallTool(context.Background(), "wiki", "search", nil)
	require.ErrorIs(t, err, ErrUpstreamTimeout)
	require.Less(t, time.Since(start), time.Second, "the hub-enforced deadline must fire well before a generous test timeout")
}

func TestSupervisorCallToolZeroTimeoutDisablesDeadline(t *testing.T) {
	client := &fakeClient{callBlock: true}
	factory := newFakeFactory().withClient("wiki", client)

	flags := config.DefaultSystemFlags()
	flags.CallTimeoutMs = 0
	sup, _ := newTestSupervisor(t, factory, &config.Settings{
		Upstreams: []config.UpstreamSpec{stubUpstream("wiki")},
		Flags:     flags,
	})
	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool {
		rt, ok := sup.RuntimeFor("wiki")
		return ok && rt.State == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := sup.CallTool(ctx, "wiki", "search", nil)
	require.ErrorIs(t, err, ErrUpstreamTimeout, "the caller's own context still governs when callTimeout is disabled")
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	d1 := backoff(1, rnd)
	d5 := backoff(5, rnd)
	d20 := backoff(20, rnd)

	require.Less(t, d1, d5)
	require.LessOrEqual(t, d20, backoffCap+backoffCap/5)
}
