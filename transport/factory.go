// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"context"
	"fmt"
	"net/http"

	hubconfig "github.com/mcphub/hub/config"
	"github.com/mcphub/hub/logging"
)

// New builds the Client for the given upstream spec, dispatching on
// spec.Kind, grounded on the teacher's providers.CreateLanguageModel /
// search/factory.go kind-switch factory pattern generalized from "LLM
// service kind" to "transport kind".
func New(ctx context.Context, spec hubconfig.UpstreamSpec, log logging.LogService, httpClient *http.Client) (Client, error) {
	switch spec.Kind {
	case hubconfig.KindStdio:
		if spec.Stdio == nil {
			return nil, fmt.Errorf("upstream %q declares kind stdio without stdio parameters", spec.Name)
		}
		return NewStdioClient(spec.Name, StdioParams{
			Command: spec.Stdio.Command,
			Args:    spec.Stdio.Args,
			Env:     spec.Stdio.Env,
		}, log)

	case hubconfig.KindSSE:
		if spec.SSE == nil {
			return nil, fmt.Errorf("upstream %q declares kind sse without sse parameters", spec.Name)
		}
		return NewSSEClient(ctx, spec.Name, SSEParams{
			URL:     spec.SSE.URL,
			Headers: spec.SSE.Headers,
		})

	case hubconfig.KindHTTPStream:
		if spec.HTTPStream == nil {
			return nil, fmt.Errorf("upstream %q declares kind http-stream without http-stream parameters", spec.Name)
		}
		return NewHTTPStreamClient(ctx, spec.Name, HTTPStreamParams{
			URL:     spec.HTTPStream.URL,
			Headers: spec.HTTPStream.Headers,
		})

	case hubconfig.KindOpenAPI:
		if spec.OpenAPI == nil {
			return nil, fmt.Errorf("upstream %q declares kind openapi without openapi parameters", spec.Name)
		}
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		return NewOpenAPIClient(spec.Name, OpenAPIParams{
			DocumentURL: spec.OpenAPI.DocumentURL,
			BaseURL:     spec.OpenAPI.BaseURL,
			Security: SecurityScheme{
				Type:  SecuritySchemeType(spec.OpenAPI.Security.Type),
				In:    spec.OpenAPI.Security.In,
				Name:  spec.OpenAPI.Security.Name,
				Value: spec.OpenAPI.Security.Value,
			},
		}, httpClient), nil
	}

	return nil, fmt.Errorf("unsupported upstream kind %q for upstream %q", spec.Kind, spec.Name)
}
