// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package session implements the Downstream Session Manager (spec.md §4.C7):
// per-session state, a per-session github.com/mark3labs/mcp-go server.MCPServer
// instance carrying exactly the tools the session's scope resolves to, and
// the refresh/diff/notify cycle that keeps it current. Grounded on
// other_examples/jkoelker-posuer__interposer.go's Interposer (one
// server.MCPServer instance fronting a dynamic, backend-sourced tool set,
// reconciled with AddTool/DeleteTools plus an explicit change notification)
// generalized from "one server for the whole proxy" to "one server per
// downstream session", and on streaming/streaming.go's postStreamContext
// (a per-entity context.CancelFunc guarded by a mutex) for the SSE
// stream-lifetime cancellation.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcphub/hub/auth"
)

// ToolEntry is one tool a session's MCP server should currently expose. The
// Handler is invoked with the raw arguments object from the downstream
// tools/call request; everything it needs (which upstream, which real tool
// name, access enforcement, smart-group synthesis) is closed over by the
// Request Router that builds the entry.
type ToolEntry struct {
	EffectiveName string
	Description   string
	InputSchema   map[string]any
	Handler       func(ctx context.Context, arguments map[string]any) (*mcp.CallToolResult, error)
}

// ToolLister computes the current, scope-filtered tool view for a session.
// It is implemented by the Request Router (C8); the Session Manager only
// consumes it.
type ToolLister interface {
	ListForScope(scope string, principal auth.Principal) (entries []ToolEntry, isSmart bool)
}

// toolSignature is the comparable projection of a ToolEntry used to detect
// whether a session's registered view actually changed. mcp.Tool/ToolEntry
// are not directly comparable (non-nil funcs never compare equal under
// reflect.DeepEqual), so diffing happens against this instead.
type toolSignature struct {
	description string
	schemaJSON  string
}

func signatureFor(e ToolEntry) toolSignature {
	data, _ := json.Marshal(e.InputSchema)
	return toolSignature{description: e.Description, schemaJSON: string(data)}
}

// Session is one downstream MCP client's live connection: a binding of
// principal+scope to a dedicated mcp-go server instance, kept in sync with
// the hub's catalog/access state.
type Session struct {
	id        string
	principal auth.Principal
	scope     string
	transport string // "sse" | "http-stream"

	mcp *server.MCPServer

	mu       sync.Mutex
	applied  map[string]toolSignature
	isSmart  bool
	lastSeen time.Time

	cancel context.CancelFunc // cancels the SSE stream goroutine, if any
}

// ID returns the session's opaque identifier, handed to the downstream
// client as `sessionId`.
func (s *Session) ID() string { return s.id }

// Principal returns the authenticated identity this session was created
// for.
func (s *Session) Principal() auth.Principal { return s.principal }

// Scope returns the raw scope segment this session was bound to.
func (s *Session) Scope() string { return s.scope }

// Transport reports which downstream wire transport this session uses.
func (s *Session) Transport() string { return s.transport }

// IsSmart reports whether the session's scope resolved to the smart group
// as of the last Refresh.
func (s *Session) IsSmart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSmart
}

// MCPServer returns the session's dedicated server instance, for the api
// layer to wrap in a transport handler (server.NewSSEServer,
// server.NewStreamableHTTPServer).
func (s *Session) MCPServer() *server.MCPServer { return s.mcp }

// Touch records activity, resetting the idle-sweep clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// Refresh recomputes the session's tool view from lister and reconciles it
// against the mcp-go server's registered tools, applying only the delta.
// It returns whether the visible view actually changed, so the caller can
// send exactly one notifications/tools/list_changed per real change (spec.md
// §8: "no session receives a notification whose resulting list equals the
// previous list").
func (s *Session) Refresh(ctx context.Context, lister ToolLister) bool {
	entries, isSmart := lister.ListForScope(s.scope, s.principal)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]toolSignature, len(entries))
	changed := isSmart != s.isSmart
	for _, e := range entries {
		sig := signatureFor(e)
		next[e.EffectiveName] = sig
		if prev, ok := s.applied[e.EffectiveName]; !ok || prev != sig {
			changed = true
			handler := e.Handler
			s.mcp.AddTool(mcp.Tool{
				Name:        e.EffectiveName,
				Description: e.Description,
				InputSchema: mapToSchema(e.InputSchema),
			}, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handler(ctx, req.Params.Arguments)
			})
		}
	}

	var removed []string
	for name := range s.applied {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		changed = true
		s.mcp.DeleteTools(removed...)
	}

	s.applied = next
	s.isSmart = isSmart

	if changed {
		// Best-effort: a session with no open stream yet (e.g. a fresh
		// http-stream session before its first poll) has nothing to notify.
		_ = s.mcp.SendNotificationToClient(ctx, "notifications/tools/list_changed", map[string]any{})
	}
	return changed
}

// mapToSchema round-trips a plain JSON-Schema map into the library's typed
// input-schema struct, the inverse of transport.schemaToMap's ConvertViaJSON
// idiom (server/mcp/mcp_client.go).
func mapToSchema(in map[string]any) mcp.ToolInputSchema {
	var out mcp.ToolInputSchema
	data, err := json.Marshal(in)
	if err != nil {
		return mcp.ToolInputSchema{Type: "object"}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return mcp.ToolInputSchema{Type: "object"}
	}
	return out
}
