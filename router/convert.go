// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package router

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcphub/hub/access"
	"github.com/mcphub/hub/transport"
	"github.com/mcphub/hub/upstream"
)

// toMCPResult converts an Upstream Client result into the wire type the
// session's mcp-go server hands back to the downstream client, the inverse
// of transport.resultFromMCP's ConvertViaJSON-adjacent content mapping.
func toMCPResult(res transport.CallResult) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(res.Content))
	for _, b := range res.Content {
		switch b.Kind {
		case transport.ContentText:
			content = append(content, mcp.TextContent{Type: "text", Text: b.Text})
		case transport.ContentImage:
			content = append(content, mcp.ImageContent{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(b.Data),
				MIMEType: b.MimeType,
			})
		case transport.ContentResource:
			content = append(content, mcp.EmbeddedResource{
				Type:     "resource",
				Resource: mcp.TextResourceContents{URI: b.URI},
			})
		}
	}
	return &mcp.CallToolResult{Content: content, IsError: res.IsError}
}

// wireError turns a Go error into the MCP tool-error result form (spec.md
// §7: "every failure reaches the downstream client as a standard MCP error
// response ... a stable error kind ... and a human-readable message").
func wireError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", errorKind(err), err.Error()))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, upstream.ErrUnknownUpstream):
		return "UpstreamUnavailable"
	case errors.Is(err, upstream.ErrUpstreamUnavailable):
		return "UpstreamUnavailable"
	case errors.Is(err, upstream.ErrUpstreamTimeout):
		return "UpstreamTimeout"
	case errors.Is(err, upstream.ErrUpstreamProtocolError):
		return "UpstreamProtocolError"
	case errors.Is(err, ErrToolNotFound):
		return "ToolNotFound"
	case errors.Is(err, ErrToolNotAllowed):
		return "ToolNotAllowed"
	case errors.Is(err, ErrScopeNotFound):
		return "ScopeNotFound"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrEmbedderUnavailable):
		return "EmbedderUnavailable"
	default:
		return "InternalError"
	}
}

// visibleIn reports whether (upstreamName, toolName) is part of a
// resolution, for the smart scope's call_tool visibility check.
func visibleIn(res access.Resolution, upstreamName, toolName string) bool {
	for _, ru := range res.Upstreams {
		if ru.UpstreamName == upstreamName {
			return ru.Allowed.Allows(toolName)
		}
	}
	return false
}
