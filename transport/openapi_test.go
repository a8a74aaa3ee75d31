// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
  "openapi": "3.0.0",
  "paths": {
    "/weather/{city}": {
      "get": {
        "operationId": "getWeather",
        "summary": "Get current weather for a city",
        "parameters": [
          {"name": "city", "in": "path", "required": true, "schema": {"type": "string"}}
        ]
      }
    }
  }
}`

func TestOpenAPIClientSynthesizesToolsFromDocument(t *testing.T) {
	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer docServer.Close()

	c := NewOpenAPIClient("weather-api", OpenAPIParams{DocumentURL: docServer.URL, BaseURL: docServer.URL}, nil)

	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "getWeather", tools[0].Name)
	require.Equal(t, "Get current weather for a city", tools[0].Description)
}

func TestOpenAPIClientCallToolSubstitutesPathParam(t *testing.T) {
	var requestedPath string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tempC": 21}`))
	}))
	defer api.Close()

	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer docServer.Close()

	c := NewOpenAPIClient("weather-api", OpenAPIParams{DocumentURL: docServer.URL, BaseURL: api.URL}, nil)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	result, err := c.CallTool(context.Background(), "getWeather", map[string]any{"city": "Paris"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "/weather/Paris", requestedPath)
	require.Contains(t, result.Content[0].Text, "tempC")
}

func TestOpenAPIClientCallToolMissingRequiredParam(t *testing.T) {
	docServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleDoc))
	}))
	defer docServer.Close()

	c := NewOpenAPIClient("weather-api", OpenAPIParams{DocumentURL: docServer.URL, BaseURL: docServer.URL}, nil)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	result, err := c.CallTool(context.Background(), "getWeather", map[string]any{})
	require.NoError(t, err)
	require.True(t, result.IsError)
}
