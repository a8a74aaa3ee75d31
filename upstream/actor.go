// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package upstream

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/transport"
)

// actor owns exactly one UpstreamRuntime and serializes every state
// transition for it on a single goroutine, per spec.md §4.C3
// "Concurrency: per-upstream operations run serially ... different
// upstreams run in parallel." This mirrors the teacher's
// streaming.MMPostStreamService: one goroutine and one cancel-capable
// context per managed entity, looked up by name instead of by post id.
type actor struct {
	sup  supervisorInternals
	name string
	log  logging.LogService

	mu                  sync.Mutex
	spec                config.UpstreamSpec
	state               State
	client              transport.Client
	serverInfo          transport.ServerInfo
	tools               []transport.ToolDescriptor
	lastError           error
	consecutiveFailures int
	nextRetryAt         time.Time
	lastToolsAt         time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool

	rng *rand.Rand
}

// supervisorInternals is the slice of Supervisor an actor needs, kept
// narrow so actor tests can fake it without constructing a whole Supervisor.
type supervisorInternals interface {
	httpClient() *http.Client
	notifyToolsChanged(upstreamName string)
}

// newTransportClient is a package variable so tests can substitute a fake
// transport.Client without touching real processes or sockets.
var newTransportClient = transport.New

func newActor(sup supervisorInternals, spec config.UpstreamSpec, log logging.LogService) *actor {
	return &actor{
		sup:    sup,
		name:   spec.Name,
		log:    log,
		spec:   spec,
		state:  StateDisconnected,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not security-sensitive
	}
}

func (a *actor) snapshot() Runtime {
	a.mu.Lock()
	defer a.mu.Unlock()
	toolsCopy := make([]transport.ToolDescriptor, len(a.tools))
	copy(toolsCopy, a.tools)
	return Runtime{
		Spec:                a.spec,
		State:               a.state,
		ServerInfo:          a.serverInfo,
		Tools:               toolsCopy,
		LastError:           a.lastError,
		ConsecutiveFailures: a.consecutiveFailures,
		NextRetryAt:         a.nextRetryAt,
	}
}

// currentSpec returns the actor's live spec under lock, used by the
// supervisor to compute reconciliation decisions without racing updateSpec.
func (a *actor) currentSpec() config.UpstreamSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spec
}

// updateSpec swaps in a new overlay-only spec without restarting the
// transport (spec.md §4.C3 reconciliation case 4).
func (a *actor) updateSpec(spec config.UpstreamSpec) {
	a.mu.Lock()
	a.spec = spec
	a.mu.Unlock()
	a.sup.notifyToolsChanged(a.name)
}

func (a *actor) run() {
	defer close(a.doneCh)

	for {
		select {
		case <-a.stopCh:
			a.setState(StateClosed, nil)
			return
		default:
		}

		a.setState(StateConnecting, nil)
		client, info, tools, err := a.connect()
		if err != nil {
			a.onConnectFailure(err)
			if a.waitForRetry() {
				return
			}
			continue
		}

		a.onConnectSuccess(client, info, tools)

		if stop := a.readyLoop(); stop {
			client.Close() //nolint:errcheck
			return
		}
		client.Close() //nolint:errcheck
	}
}

func (a *actor) connect() (transport.Client, transport.ServerInfo, []transport.ToolDescriptor, error) {
	a.mu.Lock()
	spec := a.spec
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := newTransportClient(ctx, spec, a.log, a.sup.httpClient())
	if err != nil {
		return nil, transport.ServerInfo{}, nil, fmt.Errorf("connect upstream %q: %w", a.name, err)
	}

	info, err := client.Initialize(ctx)
	if err != nil {
		client.Close() //nolint:errcheck
		return nil, transport.ServerInfo{}, nil, fmt.Errorf("initialize upstream %q: %w", a.name, err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		client.Close() //nolint:errcheck
		return nil, transport.ServerInfo{}, nil, fmt.Errorf("list tools on upstream %q: %w", a.name, err)
	}

	return client, info, tools, nil
}

func (a *actor) onConnectFailure(err error) {
	a.mu.Lock()
	a.consecutiveFailures++
	a.lastError = err
	a.nextRetryAt = time.Now().Add(backoff(a.consecutiveFailures, a.rng))
	a.mu.Unlock()
	a.setState(StateDegraded, err)
	a.log.Warn("upstream connect failed", "upstream", a.name, "error", err, "attempt", a.consecutiveFailures)
}

func (a *actor) onConnectSuccess(client transport.Client, info transport.ServerInfo, tools []transport.ToolDescriptor) {
	a.mu.Lock()
	a.client = client
	a.serverInfo = info
	a.tools = tools
	a.lastToolsAt = time.Now()
	a.consecutiveFailures = 0
	a.lastError = nil
	a.mu.Unlock()
	a.setState(StateReady, nil)
	a.sup.notifyToolsChanged(a.name)
}

// waitForRetry blocks until nextRetryAt or stop, returning true if the
// actor was asked to stop.
func (a *actor) waitForRetry() bool {
	a.mu.Lock()
	wait := time.Until(a.nextRetryAt)
	a.mu.Unlock()
	if wait < 0 {
		wait = 0
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-a.stopCh:
		return true
	case <-t.C:
		return false
	}
}

func (a *actor) keepAliveInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	ms := a.spec.KeepAliveIntervalMs
	if ms <= 0 {
		ms = 60_000
	}
	return time.Duration(ms) * time.Millisecond
}

// readyLoop runs the keep-alive/tool-refresh cycle while state is ready,
// returning true only when the actor was asked to stop.
func (a *actor) readyLoop() (stop bool) {
	ticker := time.NewTicker(a.keepAliveInterval())
	defer ticker.Stop()

	consecutivePingFailures := 0

	for {
		select {
		case <-a.stopCh:
			return true
		case <-ticker.C:
			a.mu.Lock()
			client := a.client
			a.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			pingErr := client.Ping(ctx)
			cancel()

			if pingErr != nil {
				consecutivePingFailures++
				a.log.Warn("upstream keep-alive failed", "upstream", a.name, "error", pingErr, "consecutive", consecutivePingFailures)
				if consecutivePingFailures >= 2 {
					a.degradeFromReady(pingErr)
					return false
				}
				continue
			}
			consecutivePingFailures = 0

			ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
			tools, err := client.ListTools(ctx2)
			cancel2()
			if err != nil {
				a.degradeFromReady(fmt.Errorf("list tools failed: %w", err))
				return false
			}

			a.mu.Lock()
			changed := toolsChanged(a.tools, tools)
			a.tools = tools
			a.lastToolsAt = time.Now()
			a.mu.Unlock()
			if changed {
				a.sup.notifyToolsChanged(a.name)
			}
		}
	}
}

func (a *actor) degradeFromReady(err error) {
	a.mu.Lock()
	a.consecutiveFailures++
	a.lastError = err
	a.nextRetryAt = time.Now().Add(backoff(a.consecutiveFailures, a.rng))
	a.mu.Unlock()
	a.setState(StateDegraded, err)
	a.sup.notifyToolsChanged(a.name)
}

func (a *actor) setState(s State, err error) {
	a.mu.Lock()
	a.state = s
	if err != nil {
		a.lastError = err
	}
	a.mu.Unlock()
}

// callTool forwards to the live transport client if ready.
func (a *actor) callTool(ctx context.Context, toolName string, arguments map[string]any) (transport.CallResult, error) {
	a.mu.Lock()
	state := a.state
	client := a.client
	a.mu.Unlock()

	if state != StateReady || client == nil {
		return transport.CallResult{}, fmt.Errorf("%w: upstream %q is %s", ErrUpstreamUnavailable, a.name, state)
	}

	result, err := client.CallTool(ctx, toolName, arguments)
	if err != nil {
		if ctx.Err() != nil {
			return transport.CallResult{}, fmt.Errorf("%w: %s", ErrUpstreamTimeout, err)
		}
		return transport.CallResult{}, fmt.Errorf("%w: %s", ErrUpstreamProtocolError, err)
	}
	return result, nil
}

func (a *actor) stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()
	close(a.stopCh)
	<-a.doneCh
}

func toolsChanged(oldTools, newTools []transport.ToolDescriptor) bool {
	if len(oldTools) != len(newTools) {
		return true
	}
	sortTools := func(in []transport.ToolDescriptor) []transport.ToolDescriptor {
		out := make([]transport.ToolDescriptor, len(in))
		copy(out, in)
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}
	a := sortTools(oldTools)
	b := sortTools(newTools)
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Description != b[i].Description {
			return true
		}
		if !reflect.DeepEqual(a[i].InputSchema, b[i].InputSchema) {
			return true
		}
	}
	return false
}
