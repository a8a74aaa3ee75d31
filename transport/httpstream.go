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

// HTTPStreamParams configures an http-stream-transport upstream.
type HTTPStreamParams struct {
	URL     string
	Headers map[string]string
}

// HTTPStreamClient is request/response JSON-RPC over HTTP with no
// persistent channel (spec.md §4.C2): every call is its own HTTP request,
// correlated by request id by the underlying library; reconnection is
// trivially per-request since there is no connection to lose.
type HTTPStreamClient struct {
	upstreamName string
	inner        *client.Client

	mu      sync.Mutex
	lastErr error
}

// NewHTTPStreamClient creates an http-stream adapter for params.URL.
func NewHTTPStreamClient(ctx context.Context, upstreamName string, params HTTPStreamParams) (*HTTPStreamClient, error) {
	httpTransport, err := client.NewStreamableHttpClient(params.URL, mcptransport.WithHTTPHeaders(params.Headers))
	if err != nil {
		return nil, fmt.Errorf("create http-stream client for upstream %q: %w", upstreamName, err)
	}
	if err := httpTransport.Start(ctx); err != nil {
		httpTransport.Close() //nolint:errcheck
		return nil, fmt.Errorf("start http-stream client for upstream %q: %w", upstreamName, err)
	}

	return &HTTPStreamClient{upstreamName: upstreamName, inner: httpTransport}, nil
}

func (c *HTTPStreamClient) Initialize(ctx context.Context) (ServerInfo, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "mcphub", Version: "1.0.0"}

	result, err := c.inner.Initialize(ctx, req)
	if err != nil {
		c.setLastErr(err)
		return ServerInfo{}, fmt.Errorf("initialize http-stream upstream %q: %w", c.upstreamName, err)
	}

	return ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
		Capabilities:    capabilitiesToMap(result.Capabilities),
	}, nil
}

func (c *HTTPStreamClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.setLastErr(err)
		return nil, fmt.Errorf("list tools on http-stream upstream %q: %w", c.upstreamName, err)
	}
	return toolsFromMCP(result.Tools), nil
}

func (c *HTTPStreamClient) CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		c.setLastErr(err)
		return CallResult{}, fmt.Errorf("call tool %q on http-stream upstream %q: %w", name, c.upstreamName, err)
	}
	return resultFromMCP(result), nil
}

// Ping sends a trivial request; per spec.md §4.C2 this is how the
// http-stream adapter checks liveness since it has no persistent channel
// to watch for disconnection.
func (c *HTTPStreamClient) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx); err != nil {
		c.setLastErr(err)
		return fmt.Errorf("ping http-stream upstream %q: %w", c.upstreamName, err)
	}
	return nil
}

func (c *HTTPStreamClient) Close() error {
	return c.inner.Close()
}

func (c *HTTPStreamClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *HTTPStreamClient) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
