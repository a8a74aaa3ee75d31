// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package openai implements the embeddings.Embedder collaborator on top of
// github.com/sashabaranov/go-openai, trimmed from the teacher's OpenAI LLM
// client down to the embeddings surface this hub actually needs (the
// Vector Index embeds tool descriptors; it never drives a chat
// completion).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openaiClient "github.com/sashabaranov/go-openai"
)

// Config is the embeddings-relevant subset of the teacher's openai.Config.
type Config struct {
	APIKey              string `json:"apiKey"`
	APIURL              string `json:"apiURL"`
	OrgID               string `json:"orgID"`
	EmbeddingModel      string `json:"embeddingModel"`
	EmbeddingDimentions int    `json:"embeddingDimensions"`
}

// OpenAI implements embeddings.Embedder.
type OpenAI struct {
	client *openaiClient.Client
	config Config
}

// NewEmbeddings creates an OpenAI-backed embedder.
func NewEmbeddings(config Config, httpClient *http.Client) *OpenAI {
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = string(openaiClient.LargeEmbedding3)
		config.EmbeddingDimentions = 3072
	}
	return newOpenAI(config, httpClient, func(apiKey string) openaiClient.ClientConfig {
		clientConfig := openaiClient.DefaultConfig(apiKey)
		clientConfig.OrgID = config.OrgID
		return clientConfig
	})
}

// NewCompatibleEmbeddings creates an embedder against an OpenAI-compatible
// API (a different base URL, no default embedding model assumptions beyond
// falling back the same way NewEmbeddings does).
func NewCompatibleEmbeddings(config Config, httpClient *http.Client) *OpenAI {
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = string(openaiClient.LargeEmbedding3)
		config.EmbeddingDimentions = 3072
	}
	return newOpenAI(config, httpClient, func(apiKey string) openaiClient.ClientConfig {
		clientConfig := openaiClient.DefaultConfig(apiKey)
		clientConfig.BaseURL = strings.TrimSuffix(config.APIURL, "/")
		return clientConfig
	})
}

func newOpenAI(config Config, httpClient *http.Client, baseConfigFunc func(apiKey string) openaiClient.ClientConfig) *OpenAI {
	clientConfig := baseConfigFunc(config.APIKey)
	clientConfig.HTTPClient = httpClient
	return &OpenAI{
		client: openaiClient.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// CreateEmbedding implements embeddings.Embedder.
func (s *OpenAI) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openaiClient.EmbeddingRequest{
		Input:      []string{text},
		Model:      openaiClient.EmbeddingModel(s.config.EmbeddingModel),
		Dimensions: s.config.EmbeddingDimentions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}

// BatchCreateEmbeddings implements embeddings.Embedder.
func (s *OpenAI) BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openaiClient.EmbeddingRequest{
		Input:      texts,
		Model:      openaiClient.EmbeddingModel(s.config.EmbeddingModel),
		Dimensions: s.config.EmbeddingDimentions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings batch: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		out[i] = data.Embedding
	}
	return out, nil
}

// Dimensions implements embeddings.Embedder.
func (s *OpenAI) Dimensions() int {
	return s.config.EmbeddingDimentions
}
