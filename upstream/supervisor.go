// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package upstream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/transport"
)

// ToolsChangedListener is notified whenever an upstream's live state or
// tool list changes, so the Tool Catalog (spec.md §4.C4) can recompute the
// effective descriptors it owns without polling.
type ToolsChangedListener func(upstreamName string)

// Supervisor reconciles declared config.UpstreamSpec entries against live
// actors, one per upstream, per spec.md §4.C3. The reconcile-against-a-
// declared-list shape is grounded on the teacher's bots.MMBots.EnsureBots /
// UpdateBotsCache: on every settings change, walk the declared list,
// create/update/remove the corresponding managed entities so the live set
// converges on the declared one.
type Supervisor struct {
	store *config.Store
	log   logging.LogService
	http  *http.Client

	mu     sync.Mutex
	actors map[string]*actor

	listenersMu sync.Mutex
	listeners   []ToolsChangedListener

	storeSubID int
}

// NewSupervisor builds a Supervisor but does not start reconciling until
// Start is called.
func NewSupervisor(store *config.Store, log logging.LogService, httpClient *http.Client) *Supervisor {
	if log == nil {
		log = logging.NewNoop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Supervisor{
		store:  store,
		log:    log,
		http:   httpClient,
		actors: make(map[string]*actor),
	}
}

// Start performs the initial reconciliation against the store's current
// snapshot and subscribes to future changes.
func (s *Supervisor) Start() {
	s.reconcile(s.store.Snapshot())
	s.storeSubID = s.store.Subscribe(func(_ config.SettingsDiff, newSettings config.Settings) {
		s.reconcile(newSettings)
	})
}

// Stop tears down every managed upstream and unsubscribes from the store.
// Each actor is stopped concurrently since a stdio actor's stop can block on
// process teardown; sequentially stopping N upstreams would otherwise sum
// their shutdown latencies instead of taking the slowest one.
func (s *Supervisor) Stop() {
	s.store.Unsubscribe(s.storeSubID)

	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.actors = make(map[string]*actor)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *actor) {
			defer wg.Done()
			a.stop()
		}(a)
	}
	wg.Wait()
}

// OnToolsChanged registers a listener invoked whenever an upstream's state
// or tool list may have changed.
func (s *Supervisor) OnToolsChanged(l ToolsChangedListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Supervisor) notifyToolsChanged(upstreamName string) {
	s.listenersMu.Lock()
	listeners := make([]ToolsChangedListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(upstreamName)
	}
}

func (s *Supervisor) httpClient() *http.Client { return s.http }

// reconcile implements spec.md §4.C3's four cases: new upstream spawns an
// actor; removed/disabled stops one; a connection-relevant field change
// restarts the actor; an overlay-only change updates the live spec in place.
func (s *Supervisor) reconcile(settings config.Settings) {
	declared := make(map[string]config.UpstreamSpec, len(settings.Upstreams))
	for _, u := range settings.Upstreams {
		declared[u.Name] = u
	}

	s.mu.Lock()
	var toStart []config.UpstreamSpec
	var toStop []*actor
	var toRestart []struct {
		old *actor
		new config.UpstreamSpec
	}
	var toReoverlay []struct {
		a    *actor
		spec config.UpstreamSpec
	}

	for name, spec := range declared {
		existing, ok := s.actors[name]
		if !ok {
			if spec.Enabled {
				toStart = append(toStart, spec)
			}
			continue
		}
		if !spec.Enabled {
			toStop = append(toStop, existing)
			delete(s.actors, name)
			continue
		}
		if existing.currentSpec().ConnectionFingerprint() != spec.ConnectionFingerprint() {
			toRestart = append(toRestart, struct {
				old *actor
				new config.UpstreamSpec
			}{existing, spec})
			continue
		}
		toReoverlay = append(toReoverlay, struct {
			a    *actor
			spec config.UpstreamSpec
		}{existing, spec})
	}

	for name, existing := range s.actors {
		if _, stillDeclared := declared[name]; !stillDeclared {
			toStop = append(toStop, existing)
			delete(s.actors, name)
		}
	}

	for _, spec := range toStart {
		a := newActor(s, spec, s.log)
		s.actors[spec.Name] = a
		go a.run()
	}
	s.mu.Unlock()

	for _, a := range toStop {
		go a.stop()
	}
	for _, r := range toRestart {
		go func(old *actor, spec config.UpstreamSpec) {
			old.stop()
			a := newActor(s, spec, s.log)
			s.mu.Lock()
			s.actors[spec.Name] = a
			s.mu.Unlock()
			go a.run()
		}(r.old, r.new)
	}
	for _, r := range toReoverlay {
		r.a.updateSpec(r.spec)
	}
}

// Snapshot returns the live Runtime for every currently-managed upstream.
func (s *Supervisor) Snapshot() map[string]Runtime {
	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	out := make(map[string]Runtime, len(actors))
	for _, a := range actors {
		out[a.name] = a.snapshot()
	}
	return out
}

// RuntimeFor returns the Runtime for one upstream, and whether it is known.
func (s *Supervisor) RuntimeFor(name string) (Runtime, bool) {
	s.mu.Lock()
	a, ok := s.actors[name]
	s.mu.Unlock()
	if !ok {
		return Runtime{}, false
	}
	return a.snapshot(), true
}

// CallTool forwards a tools/call request to the named upstream, used by the
// Request Router (spec.md §4.C8). It enforces the hub's per-call timeout
// (spec.md §5, Flags.CallTimeoutMs) around the dispatch; a CallTimeoutMs of
// 0 disables the deadline (spec.md §8), leaving the caller's own context in
// control.
func (s *Supervisor) CallTool(ctx context.Context, upstreamName, toolName string, arguments map[string]any) (transport.CallResult, error) {
	s.mu.Lock()
	a, ok := s.actors[upstreamName]
	s.mu.Unlock()
	if !ok {
		return transport.CallResult{}, ErrUnknownUpstream
	}

	if timeoutMs := s.store.Snapshot().Flags.CallTimeoutMs; timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	return a.callTool(ctx, toolName, arguments)
}
