// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

func toolsFromMCP(in []mcp.Tool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(in))
	for _, t := range in {
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return out
}

// schemaToMap round-trips the library's typed input-schema struct through
// JSON into a plain map, the same ConvertViaJSON idiom the teacher used in
// server/mcp/mcp_client.go, generalized to the whole schema rather than
// just its Properties field.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func resultFromMCP(result *mcp.CallToolResult) CallResult {
	out := CallResult{IsError: result.IsError}
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			out.Content = append(out.Content, ContentBlock{Kind: ContentText, Text: text.Text})
			continue
		}
		if img, ok := mcp.AsImageContent(c); ok {
			out.Content = append(out.Content, ContentBlock{Kind: ContentImage, Data: []byte(img.Data), MimeType: img.MIMEType})
			continue
		}
		if res, ok := mcp.AsEmbeddedResource(c); ok {
			out.Content = append(out.Content, ContentBlock{Kind: ContentResource, URI: resourceURI(res.Resource)})
			continue
		}
	}
	return out
}

func resourceURI(r mcp.ResourceContents) string {
	switch v := r.(type) {
	case mcp.TextResourceContents:
		return v.URI
	case mcp.BlobResourceContents:
		return v.URI
	default:
		return ""
	}
}

func capabilitiesToMap(caps mcp.ServerCapabilities) map[string]any {
	data, err := json.Marshal(caps)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
