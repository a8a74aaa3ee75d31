// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// SSEParams configures an SSE-transport upstream.
type SSEParams struct {
	URL     string
	Headers map[string]string
}

// SSEClient opens an SSE stream to the configured upstream and sends
// client->server messages via the sibling "messages" endpoint, grounded
// directly on the teacher's server/mcp/mcp_client.go (NewSSEMCPClient,
// Start, Initialize, ListTools, CallTool, Close).
type SSEClient struct {
	upstreamName string
	inner        *client.Client

	mu      sync.Mutex
	lastErr error
}

// NewSSEClient opens an SSE connection to params.URL.
func NewSSEClient(ctx context.Context, upstreamName string, params SSEParams) (*SSEClient, error) {
	var opts []mcptransport.ClientOption
	if len(params.Headers) > 0 {
		opts = append(opts, client.WithHeaders(params.Headers))
	}

	inner, err := client.NewSSEMCPClient(params.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sse client for upstream %q: %w", upstreamName, err)
	}
	if err := inner.Start(ctx); err != nil {
		inner.Close() //nolint:errcheck
		return nil, fmt.Errorf("start sse connection to upstream %q: %w", upstreamName, err)
	}

	return &SSEClient{upstreamName: upstreamName, inner: inner}, nil
}

func (c *SSEClient) Initialize(ctx context.Context) (ServerInfo, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "mcphub", Version: "1.0.0"}

	result, err := c.inner.Initialize(ctx, req)
	if err != nil {
		c.setLastErr(err)
		return ServerInfo{}, fmt.Errorf("initialize sse upstream %q: %w", c.upstreamName, err)
	}

	return ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
		Capabilities:    capabilitiesToMap(result.Capabilities),
	}, nil
}

func (c *SSEClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.setLastErr(err)
		return nil, fmt.Errorf("list tools on sse upstream %q: %w", c.upstreamName, err)
	}
	return toolsFromMCP(result.Tools), nil
}

func (c *SSEClient) CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		c.setLastErr(err)
		return CallResult{}, fmt.Errorf("call tool %q on sse upstream %q: %w", name, c.upstreamName, err)
	}
	return resultFromMCP(result), nil
}

func (c *SSEClient) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx); err != nil {
		c.setLastErr(err)
		return fmt.Errorf("ping sse upstream %q: %w", c.upstreamName, err)
	}
	return nil
}

func (c *SSEClient) Close() error {
	return c.inner.Close()
}

func (c *SSEClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *SSEClient) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
