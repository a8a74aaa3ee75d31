// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcphub/hub/logging"
)

// StdioParams configures a child-process upstream.
type StdioParams struct {
	Command string
	Args    []string
	Env     map[string]string
}

// StdioClient spawns the configured command and speaks MCP over its
// standard streams, grounded on the teacher's server/mcp/mcp_client.go
// Start/Initialize/ListTools/CallTool/Close sequencing over
// github.com/mark3labs/mcp-go/client, adapted from the SSE transport to
// the stdio one. The child's stderr is captured line-by-line into the log
// sink tagged with upstreamName, per spec.md §4.C2.
type StdioClient struct {
	upstreamName string
	log          logging.LogService

	inner *client.Client

	mu       sync.Mutex
	lastErr  error
	closedCh chan struct{}
}

// NewStdioClient spawns the given child process and returns a stdio adapter
// for it; the MCP initialize handshake happens later, in Initialize.
func NewStdioClient(upstreamName string, params StdioParams, log logging.LogService) (*StdioClient, error) {
	env := make([]string, 0, len(params.Env))
	for k, v := range params.Env {
		env = append(env, k+"="+v)
	}

	inner, err := client.NewStdioMCPClient(params.Command, env, params.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn stdio upstream %q: %w", upstreamName, err)
	}

	c := &StdioClient{
		upstreamName: upstreamName,
		log:          log,
		inner:        inner,
		closedCh:     make(chan struct{}),
	}
	go c.drainStderr()
	return c, nil
}

func (c *StdioClient) drainStderr() {
	stderr, ok := client.GetStderr(c.inner)
	if !ok || stderr == nil {
		return
	}
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.log.Warn("upstream stderr", "upstream", c.upstreamName, "line", scanner.Text())
	}
}

func (c *StdioClient) Initialize(ctx context.Context) (ServerInfo, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "mcphub", Version: "1.0.0"}

	result, err := c.inner.Initialize(ctx, req)
	if err != nil {
		c.setLastErr(err)
		return ServerInfo{}, fmt.Errorf("initialize stdio upstream %q: %w", c.upstreamName, err)
	}

	return ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
		Capabilities:    capabilitiesToMap(result.Capabilities),
	}, nil
}

func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.setLastErr(err)
		return nil, fmt.Errorf("list tools on stdio upstream %q: %w", c.upstreamName, err)
	}
	return toolsFromMCP(result.Tools), nil
}

func (c *StdioClient) CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		c.setLastErr(err)
		return CallResult{}, fmt.Errorf("call tool %q on stdio upstream %q: %w", name, c.upstreamName, err)
	}
	return resultFromMCP(result), nil
}

func (c *StdioClient) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx); err != nil {
		c.setLastErr(err)
		return fmt.Errorf("ping stdio upstream %q: %w", c.upstreamName, err)
	}
	return nil
}

func (c *StdioClient) Close() error {
	select {
	case <-c.closedCh:
		return nil
	default:
		close(c.closedCh)
	}
	return c.inner.Close()
}

func (c *StdioClient) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *StdioClient) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
