// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import "encoding/json"

// TransportKind is the discriminator of the tagged union of upstream
// transports (stdio, sse, http-stream, openapi). The four kinds are a
// closed set; each variant below carries only the parameters it needs.
type TransportKind string

const (
	KindStdio      TransportKind = "stdio"
	KindSSE        TransportKind = "sse"
	KindHTTPStream TransportKind = "http-stream"
	KindOpenAPI    TransportKind = "openapi"
)

// StdioParams configures a child-process upstream.
type StdioParams struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// SSEParams configures an SSE-transport upstream.
type SSEParams struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HTTPStreamParams configures an http-stream-transport upstream.
type HTTPStreamParams struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SecuritySchemeType enumerates the security schemes the openapi adapter
// understands when building outbound requests.
type SecuritySchemeType string

const (
	SecurityNone   SecuritySchemeType = "none"
	SecurityAPIKey SecuritySchemeType = "apiKey"
	SecurityBearer SecuritySchemeType = "bearer"
)

// SecurityScheme describes how the openapi adapter authenticates outbound
// calls to the synthesized tool's operation.
type SecurityScheme struct {
	Type  SecuritySchemeType `json:"type"`
	In    string             `json:"in,omitempty"`   // "header" | "query", apiKey only
	Name  string             `json:"name,omitempty"` // header/query/param name, or empty for bearer (Authorization)
	Value string             `json:"value"`
}

// OpenAPIParams configures an openapi-synthesized upstream.
type OpenAPIParams struct {
	DocumentURL string         `json:"documentUrl"`
	BaseURL     string         `json:"baseUrl,omitempty"`
	Security    SecurityScheme `json:"security,omitempty"`
}

// ToolOverlay is the operator-declared override for a single tool exposed by
// an upstream: whether it is enabled, and an optional description override
// used both downstream and as the text embedded for vector search.
type ToolOverlay struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	DescriptionOverride string `json:"descriptionOverride,omitempty"`
}

// IsEnabled reports whether the overlay allows the tool, defaulting to true
// when Enabled is unset (spec.md §4.C4: "enabled iff ... absent or true").
func (o ToolOverlay) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// UpstreamSpec is the declarative, Settings-Store-owned record of one
// upstream MCP server.
type UpstreamSpec struct {
	Name                string                 `json:"name"`
	Kind                TransportKind          `json:"kind"`
	Stdio               *StdioParams           `json:"stdio,omitempty"`
	SSE                 *SSEParams             `json:"sse,omitempty"`
	HTTPStream          *HTTPStreamParams      `json:"httpStream,omitempty"`
	OpenAPI             *OpenAPIParams         `json:"openapi,omitempty"`
	Enabled             bool                   `json:"enabled"`
	Tools               map[string]ToolOverlay `json:"tools,omitempty"`
	KeepAliveIntervalMs int                    `json:"keepAliveIntervalMs,omitempty"`
	// Owner is the principal id this upstream belongs to, or empty for a
	// publicly visible upstream. Mirrors Group.Owner (spec.md §3
	// Multi-tenancy rule: "non-admins can only see upstreams/groups they
	// own, plus those with no owner").
	Owner string `json:"owner,omitempty"`
}

// ConnectionFingerprint returns the subset of fields that, if changed,
// require the supervisor to close and re-create the runtime rather than
// merely re-overlay the catalog (spec.md §4.C3 case 3).
func (s UpstreamSpec) ConnectionFingerprint() string {
	switch s.Kind {
	case KindStdio:
		if s.Stdio == nil {
			return string(s.Kind)
		}
		return string(s.Kind) + "|" + s.Stdio.Command + "|" + envFingerprint(s.Stdio.Env) + "|" + argsFingerprint(s.Stdio.Args)
	case KindSSE:
		if s.SSE == nil {
			return string(s.Kind)
		}
		return string(s.Kind) + "|" + s.SSE.URL
	case KindHTTPStream:
		if s.HTTPStream == nil {
			return string(s.Kind)
		}
		return string(s.Kind) + "|" + s.HTTPStream.URL
	case KindOpenAPI:
		if s.OpenAPI == nil {
			return string(s.Kind)
		}
		return string(s.Kind) + "|" + s.OpenAPI.DocumentURL + "|" + s.OpenAPI.BaseURL
	default:
		return string(s.Kind)
	}
}

func envFingerprint(env map[string]string) string {
	out := ""
	for k, v := range env {
		out += k + "=" + v + ";"
	}
	return out
}

func argsFingerprint(args []string) string {
	out := ""
	for _, a := range args {
		out += a + ";"
	}
	return out
}

// GroupServer is one upstream membership within a Group.
type GroupServer struct {
	UpstreamName  string   `json:"upstreamName"`
	SelectedTools []string `json:"selectedTools,omitempty"` // nil/empty => ALL enabled tools
}

// Group is a named, curated subset of upstreams with optional per-upstream
// tool allowlists. The symbolic group "$smart" is never stored here; it is
// resolved dynamically by the access resolver.
type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Servers     []GroupServer `json:"servers"`
	Owner       string        `json:"owner,omitempty"`
}

// SmartScopeName is the reserved scope identifier for the vector-similarity
// group. It is never a valid Group.Name.
const SmartScopeName = "$smart"

// EmbeddingProviderConfig selects and parameterizes the Embedder
// collaborator, directly modeled on the teacher's embeddings.UpstreamConfig.
type EmbeddingProviderConfig struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// VectorStoreConfig selects and parameterizes the Vector Index's storage
// driver, directly modeled on the teacher's embeddings.UpstreamConfig.
type VectorStoreConfig struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// EmbeddingSearchConfig is the Vector Index's configuration block, modeled
// on the teacher's embeddings.EmbeddingSearchConfig / search.InitSearch.
type EmbeddingSearchConfig struct {
	Provider   EmbeddingProviderConfig `json:"provider"`
	VectorStore VectorStoreConfig      `json:"vectorStore"`
	Dimensions int                     `json:"dimensions"`
}

// SystemFlags is the configuration-flag table of spec.md §6.
type SystemFlags struct {
	SmartRoutingEnabled           bool                  `json:"smartRoutingEnabled"`
	SmartRoutingEmbedModel        string                `json:"smartRoutingEmbedModel"`
	RoutingAllowGlobal            bool                  `json:"routingAllowGlobal"`
	RoutingDefaultGroup           string                `json:"routingDefaultGroup,omitempty"`
	KeepAliveIntervalMs           int                   `json:"keepAliveIntervalMs"`
	CallTimeoutMs                 int                   `json:"callTimeoutMs"`
	IdleSessionTimeoutMs          int                   `json:"idleSessionTimeoutMs"`
	HideDegradedUpstreamsFromList bool                  `json:"hideDegradedUpstreamsFromList"`
	EmbeddingSearch               EmbeddingSearchConfig `json:"embeddingSearch"`
}

// DefaultSystemFlags mirrors the defaults named throughout spec.md §4/§6/§8.
func DefaultSystemFlags() SystemFlags {
	return SystemFlags{
		SmartRoutingEnabled:  true,
		RoutingAllowGlobal:   true,
		KeepAliveIntervalMs:  60_000,
		CallTimeoutMs:        60_000,
		IdleSessionTimeoutMs: 30 * 60_000,
	}
}

// Settings is the whole configuration document, owned exclusively by the
// Settings Store (spec.md §3 "Ownership").
type Settings struct {
	Upstreams []UpstreamSpec `json:"upstreams"`
	Groups    []Group        `json:"groups"`
	Flags     SystemFlags    `json:"flags"`
}
