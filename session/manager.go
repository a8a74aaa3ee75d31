// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcphub/hub/auth"
	"github.com/mcphub/hub/logging"
)

// ErrScopeUnavailable is returned when a session is requested for a scope
// that resolves to no reachable upstreams while the scope is not the
// unspecified/global one (spec.md §4.C7 session-binding rule).
var ErrScopeUnavailable = errors.New("scope resolves to no reachable upstreams")

// Manager owns every live downstream session: creation, lookup, the
// idle-session sweep, and broadcasting catalog/access changes into each
// session's Refresh. Grounded on bots/bots.go's ticker-driven cache-refresh
// loop (mirrored, before this transformation, in the former
// mcp/client_manager.go idle-client reaper), generalized from "refresh a
// shared bot cache" to "sweep idle per-principal sessions".
type Manager struct {
	log         logging.LogService
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager builds a Manager. idleTimeout <= 0 disables the idle sweep.
func NewManager(log logging.LogService, idleTimeout time.Duration) *Manager {
	return &Manager{
		log:         log,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the idle-session sweep goroutine.
func (m *Manager) Start() {
	if m.idleTimeout <= 0 {
		return
	}
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the idle sweep and closes every tracked session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.cancel != nil {
			sess.cancel()
		}
		delete(m.sessions, id)
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	interval := m.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweepIdle(now)
		}
	}
}

func (m *Manager) sweepIdle(now time.Time) {
	var expired []string
	m.mu.RLock()
	for id, sess := range m.sessions {
		if sess.idleSince(now) >= m.idleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.Close(id)
		m.log.Info("session idle timeout", "sessionId", id)
	}
}

// Create allocates a new session bound to scope/principal, populating its
// initial tool view from lister. It rejects scopes that resolve to nothing
// unless scope is the unspecified/global one (spec.md §4.C7).
func (m *Manager) Create(ctx context.Context, principal auth.Principal, scope, transportKind string, lister ToolLister) (*Session, error) {
	entries, isSmart := lister.ListForScope(scope, principal)
	if scope != "" && len(entries) == 0 {
		return nil, ErrScopeUnavailable
	}

	mcpServer := server.NewMCPServer(
		"mcphub",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	sess := &Session{
		id:        uuid.NewString(),
		principal: principal,
		scope:     scope,
		transport: transportKind,
		mcp:       mcpServer,
		applied:   make(map[string]toolSignature),
		isSmart:   isSmart,
		lastSeen:  time.Now(),
	}
	if transportKind == "sse" {
		_, cancel := context.WithCancel(ctx)
		sess.cancel = cancel
	}

	sess.Refresh(ctx, lister)

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get looks up a tracked session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Close tears down and forgets a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok && sess.cancel != nil {
		sess.cancel()
	}
}

// Count reports the number of live sessions, for metrics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RefreshAll re-derives every session's tool view from lister, called
// whenever the catalog or access-relevant settings change. Each session
// notifies its client independently and only if its own filtered view
// changed.
func (m *Manager) RefreshAll(ctx context.Context, lister ToolLister) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		if sess.Refresh(ctx, lister) {
			m.log.Debug("session tool view changed", "sessionId", sess.ID())
		}
	}
}
