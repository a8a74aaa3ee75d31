// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package transport implements the four Upstream Client adapters (stdio,
// sse, http-stream, openapi) behind one shared contract, grounded on the
// teacher's server/mcp/mcp_client.go use of github.com/mark3labs/mcp-go.
package transport

import (
	"context"
	"io"
)

// ContentKind enumerates the content block kinds an upstream tool result
// may carry.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentResource ContentKind = "resource"
)

// ContentBlock is one element of a tools/call result.
type ContentBlock struct {
	Kind     ContentKind
	Text     string
	Data     []byte
	MimeType string
	URI      string
}

// ToolDescriptor is an upstream-reported tool, before any overlay is
// applied (spec.md §4.C2 listTools).
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ServerInfo is what an upstream reports on initialize.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
	Capabilities    map[string]any
}

// CallResult is the outcome of a callTool invocation.
type CallResult struct {
	Content []ContentBlock
	IsError bool
}

// Client is the Upstream Client contract every transport adapter
// implements (spec.md §4.C2).
type Client interface {
	Initialize(ctx context.Context) (ServerInfo, error)
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error)
	Ping(ctx context.Context) error

	io.Closer

	// LastError returns the most recent transport-level failure, or nil.
	// The supervisor surfaces this as UpstreamRuntime.lastError.
	LastError() error
}
