// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// SecuritySchemeType enumerates the security schemes the openapi adapter
// understands when building outbound requests.
type SecuritySchemeType string

const (
	SecurityNone   SecuritySchemeType = "none"
	SecurityAPIKey SecuritySchemeType = "apiKey"
	SecurityBearer SecuritySchemeType = "bearer"
)

// SecurityScheme describes how the openapi adapter authenticates outbound
// calls.
type SecurityScheme struct {
	Type  SecuritySchemeType
	In    string // "header" | "query", apiKey only
	Name  string // header/query parameter name, or empty for bearer (Authorization)
	Value string
}

// OpenAPIParams configures an openapi-synthesized upstream.
type OpenAPIParams struct {
	DocumentURL string
	BaseURL     string
	Security    SecurityScheme
}

type openapiOperation struct {
	toolName    string
	description string
	method      string
	path        string
	params      []openapiParam
	hasBody     bool
	bodySchema  map[string]any
	inputSchema map[string]any
}

type openapiParam struct {
	name     string
	in       string // "path" | "query" | "header"
	required bool
	schema   map[string]any
}

// OpenAPIClient fetches an OpenAPI document and synthesizes one MCP tool
// per operation, per spec.md §4.C2. It caches the parsed document and
// regenerated tool set between reconciliations (spec.md §6.C2 supplement).
type OpenAPIClient struct {
	upstreamName string
	params       OpenAPIParams
	httpClient   *http.Client

	mu         sync.RWMutex
	operations map[string]openapiOperation
	lastErr    error
}

// NewOpenAPIClient creates an (unfetched) openapi adapter.
func NewOpenAPIClient(upstreamName string, params OpenAPIParams, httpClient *http.Client) *OpenAPIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAPIClient{
		upstreamName: upstreamName,
		params:       params,
		httpClient:   httpClient,
		operations:   map[string]openapiOperation{},
	}
}

func (c *OpenAPIClient) Initialize(ctx context.Context) (ServerInfo, error) {
	if err := c.refresh(ctx); err != nil {
		c.setLastErr(err)
		return ServerInfo{}, err
	}
	return ServerInfo{
		Name:            c.upstreamName,
		Version:         "openapi",
		ProtocolVersion: "2024-11-05",
		Capabilities:    map[string]any{"tools": map[string]any{}},
	}, nil
}

// refresh fetches the OpenAPI document and rebuilds the operation set. It
// is idempotent and safe to call again on reconciliation.
func (c *OpenAPIClient) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.params.DocumentURL, nil)
	if err != nil {
		return fmt.Errorf("build openapi document request for upstream %q: %w", c.upstreamName, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch openapi document for upstream %q: %w", c.upstreamName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read openapi document for upstream %q: %w", c.upstreamName, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fetch openapi document for upstream %q: status %d", c.upstreamName, resp.StatusCode)
	}

	// yaml.v3 unmarshals both YAML and JSON documents, so this single path
	// handles either OpenAPI serialization without a second parser.
	var doc map[string]any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse openapi document for upstream %q: %w", c.upstreamName, err)
	}

	ops, err := parseOperations(doc)
	if err != nil {
		return fmt.Errorf("synthesize tools from openapi document for upstream %q: %w", c.upstreamName, err)
	}

	c.mu.Lock()
	c.operations = ops
	c.mu.Unlock()
	return nil
}

func (c *OpenAPIClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(c.operations))
	for _, op := range c.operations {
		out = append(out, ToolDescriptor{
			Name:        op.toolName,
			Description: op.description,
			InputSchema: op.inputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool builds the HTTP request for the operation's path/query/header/
// body parameter mapping, applies the configured security scheme, and
// returns the response body as a text content block, or as a resource block
// when the Content-Type is neither text nor JSON (spec.md §4.C2). Request
// and HTTP failures surface as MCP tool errors, not transport errors; an
// unknown tool name is returned as a Go error.
func (c *OpenAPIClient) CallTool(ctx context.Context, name string, arguments map[string]any) (CallResult, error) {
	c.mu.RLock()
	op, ok := c.operations[name]
	c.mu.RUnlock()
	if !ok {
		return CallResult{}, fmt.Errorf("unknown openapi tool %q on upstream %q", name, c.upstreamName)
	}

	httpReq, err := c.buildRequest(ctx, op, arguments)
	if err != nil {
		return CallResult{IsError: true, Content: []ContentBlock{{Kind: ContentText, Text: err.Error()}}}, nil
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CallResult{IsError: true, Content: []ContentBlock{{Kind: ContentText, Text: err.Error()}}}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResult{IsError: true, Content: []ContentBlock{{Kind: ContentText, Text: err.Error()}}}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 300 {
		return CallResult{IsError: true, Content: []ContentBlock{{Kind: ContentText, Text: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))}}}, nil
	}

	if strings.Contains(contentType, "text") || strings.Contains(contentType, "json") || contentType == "" {
		return CallResult{Content: []ContentBlock{{Kind: ContentText, Text: string(body)}}}, nil
	}
	return CallResult{Content: []ContentBlock{{Kind: ContentResource, Data: body, MimeType: contentType}}}, nil
}

func (c *OpenAPIClient) buildRequest(ctx context.Context, op openapiOperation, arguments map[string]any) (*http.Request, error) {
	path := op.path
	query := make([]string, 0)
	headers := map[string]string{}

	for _, p := range op.params {
		val, present := arguments[p.name]
		if !present {
			if p.required {
				return nil, fmt.Errorf("missing required parameter %q", p.name)
			}
			continue
		}
		str := fmt.Sprintf("%v", val)
		switch p.in {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.name+"}", str)
		case "query":
			query = append(query, p.name+"="+str)
		case "header":
			headers[p.name] = str
		}
	}

	url := strings.TrimRight(c.params.BaseURL, "/") + path
	if len(query) > 0 {
		url += "?" + strings.Join(query, "&")
	}

	var bodyReader io.Reader
	if op.hasBody {
		if raw, ok := arguments["requestBody"]; ok {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, op.method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if op.hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	switch c.params.Security.Type {
	case SecurityBearer:
		req.Header.Set("Authorization", "Bearer "+c.params.Security.Value)
	case SecurityAPIKey:
		name := c.params.Security.Name
		if name == "" {
			name = "X-API-Key"
		}
		if c.params.Security.In == "query" {
			sep := "?"
			if strings.Contains(req.URL.RawQuery, "=") {
				sep = "&"
			}
			req.URL.RawQuery += sep + name + "=" + c.params.Security.Value
		} else {
			req.Header.Set(name, c.params.Security.Value)
		}
	}

	return req, nil
}

// Ping is a no-op for the openapi adapter: there is no persistent channel
// to check, and a live HEAD request would have side effects on arbitrary
// operations (spec.md §4.C2 leaves liveness to transport error, not a
// dedicated ping RPC, for this one adapter).
func (c *OpenAPIClient) Ping(context.Context) error { return nil }

func (c *OpenAPIClient) Close() error { return nil }

func (c *OpenAPIClient) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *OpenAPIClient) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func parseOperations(doc map[string]any) (map[string]openapiOperation, error) {
	paths, _ := doc["paths"].(map[string]any)
	out := map[string]openapiOperation{}

	for path, rawItem := range paths {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		for _, method := range []string{"get", "post", "put", "patch", "delete"} {
			rawOp, ok := item[method]
			if !ok {
				continue
			}
			opMap, ok := rawOp.(map[string]any)
			if !ok {
				continue
			}

			toolName, _ := opMap["operationId"].(string)
			if toolName == "" {
				toolName = strings.ToLower(method) + strings.ReplaceAll(strings.ReplaceAll(path, "/", "_"), "{", "")
			}
			description, _ := opMap["summary"].(string)
			if description == "" {
				description, _ = opMap["description"].(string)
			}

			op := openapiOperation{
				toolName:    toolName,
				description: description,
				method:      strings.ToUpper(method),
				path:        path,
			}

			properties := map[string]any{}
			var required []string

			if rawParams, ok := opMap["parameters"].([]any); ok {
				for _, rp := range rawParams {
					pm, ok := rp.(map[string]any)
					if !ok {
						continue
					}
					name, _ := pm["name"].(string)
					in, _ := pm["in"].(string)
					req, _ := pm["required"].(bool)
					paramSchema, _ := pm["schema"].(map[string]any)

					op.params = append(op.params, openapiParam{name: name, in: in, required: req, schema: paramSchema})
					properties[name] = normalizeParamSchema(paramSchema)
					if req {
						required = append(required, name)
					}
				}
			}

			if rawBody, ok := opMap["requestBody"].(map[string]any); ok {
				op.hasBody = true
				if content, ok := rawBody["content"].(map[string]any); ok {
					if jsonContent, ok := content["application/json"].(map[string]any); ok {
						if s, ok := jsonContent["schema"].(map[string]any); ok {
							op.bodySchema = s
						}
					}
				}
				bodyRequired, _ := rawBody["required"].(bool)
				properties["requestBody"] = normalizeParamSchema(op.bodySchema)
				if bodyRequired {
					required = append(required, "requestBody")
				}
			}

			// Round-trip the properties map through an ordered map, the
			// same idiom the teacher used in server/mcp/mcp_client.go's
			// ConvertViaJSON. properties is a Go map, so the resulting
			// order is json.Marshal's sorted key order; the document's
			// declaration order is not kept.
			orderedProps, err := convertPropertiesToOrderedMap(properties)
			if err != nil {
				return nil, fmt.Errorf("order synthesized schema properties for %s %s: %w", method, path, err)
			}

			schema := &jsonschema.Schema{
				Type:       "object",
				Properties: orderedProps,
				Required:   required,
			}
			data, err := json.Marshal(schema)
			if err != nil {
				return nil, fmt.Errorf("marshal synthesized schema for %s %s: %w", method, path, err)
			}
			var asMap map[string]any
			if err := json.Unmarshal(data, &asMap); err != nil {
				return nil, fmt.Errorf("decode synthesized schema for %s %s: %w", method, path, err)
			}
			op.inputSchema = asMap

			out[toolName] = op
		}
	}

	return out, nil
}

// convertPropertiesToOrderedMap mirrors the teacher's
// server/mcp/mcp_client.go ConvertViaJSON helper.
func convertPropertiesToOrderedMap(source map[string]any) (*orderedmap.OrderedMap[string, *jsonschema.Schema], error) {
	var target orderedmap.OrderedMap[string, *jsonschema.Schema]
	data, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func normalizeParamSchema(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{"type": "string"}
	}
	return m
}
