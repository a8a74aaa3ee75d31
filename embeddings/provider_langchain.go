// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangchainConfig configures the self-hosted embedding provider, for
// operators who would rather point at a local Ollama instance than call an
// external embedding API (spec.md §6.C5 supplement, provider type
// "langchain-local").
type LangchainConfig struct {
	ServerURL string `json:"serverURL"`
	Model     string `json:"model"`
}

// langchainEmbedder adapts langchaingo's embeddings.Embedder to this hub's
// Embedder interface.
type langchainEmbedder struct {
	inner *lcembeddings.EmbedderImpl

	mu  sync.Mutex
	dim int
}

// NewLangchainEmbedder builds an Embedder backed by langchaingo's Ollama
// client, the embeddings collaborator the teacher's stack never needed
// (the teacher only ever called a hosted OpenAI-shaped API) but the
// broader example pack's Ollama-driven local-inference services all reach
// for via tmc/langchaingo.
func NewLangchainEmbedder(cfg LangchainConfig, httpClient *http.Client) (Embedder, error) {
	// httpClient is accepted for symmetry with the other provider
	// constructors in this package; the ollama client manages its own
	// transport and has no constructor hook to substitute one.
	_ = httpClient

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build ollama client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to build langchain embedder: %w", err)
	}

	return &langchainEmbedder{inner: embedder}, nil
}

func (e *langchainEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("langchain embed query: %w", err)
	}
	e.recordDim(len(vec))
	return vec, nil
}

func (e *langchainEmbedder) BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("langchain embed documents: %w", err)
	}
	if len(vecs) > 0 {
		e.recordDim(len(vecs[0]))
	}
	return vecs, nil
}

func (e *langchainEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *langchainEmbedder) recordDim(d int) {
	e.mu.Lock()
	e.dim = d
	e.mu.Unlock()
}
