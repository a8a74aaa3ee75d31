// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	hubconfig "github.com/mcphub/hub/config"
	"github.com/mcphub/hub/embeddings"
	"github.com/mcphub/hub/logging"
	"github.com/mcphub/hub/openai"
	"github.com/mcphub/hub/postgres"
)

// Provider type identifiers for hubconfig.EmbeddingProviderConfig.Type,
// mirroring the teacher's embeddings.ProviderType constants.
const (
	providerTypeOpenAI           = "openai"
	providerTypeOpenAICompatible = "openai-compatible"
	providerTypeLangchainLocal   = "langchain-local"
)

// vectorStoreTypePGVector is the only vector store driver currently wired.
const vectorStoreTypePGVector = "pgvector"

// newVectorStore builds the VectorStore collaborator, grounded on the
// teacher's search.newVectorStore kind-switch factory.
//
// This lives in cmd/hub rather than the embeddings package because it is
// the only caller needing both embeddings (which defines the VectorStore
// interface) and postgres (which implements it against that interface) in
// the same place, without creating an import cycle between the two.
func newVectorStore(db *sqlx.DB, cfg hubconfig.VectorStoreConfig, dimensions int) (embeddings.VectorStore, error) {
	switch cfg.Type { //nolint:gocritic
	case vectorStoreTypePGVector:
		pgCfg := postgres.Config{Dimensions: dimensions}
		if len(cfg.Parameters) > 0 {
			if err := json.Unmarshal(cfg.Parameters, &pgCfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pgvector config: %w", err)
			}
		}
		pgCfg.Dimensions = dimensions
		return postgres.New(db, pgCfg)
	}
	return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
}

// newEmbedder builds the Embedder collaborator, grounded on the teacher's
// search.newEmbeddingProvider kind-switch factory, extended with a
// langchain-local branch for operators who want a self-hosted embedder
// instead of calling an external API.
func newEmbedder(cfg hubconfig.EmbeddingProviderConfig, httpClient *http.Client, log logging.LogService) (embeddings.Embedder, error) {
	switch cfg.Type {
	case providerTypeOpenAI:
		var oaiCfg openai.Config
		if len(cfg.Parameters) > 0 {
			if err := json.Unmarshal(cfg.Parameters, &oaiCfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal openai config: %w", err)
			}
		}
		return openai.NewEmbeddings(oaiCfg, httpClient), nil

	case providerTypeOpenAICompatible:
		var oaiCfg openai.Config
		if len(cfg.Parameters) > 0 {
			if err := json.Unmarshal(cfg.Parameters, &oaiCfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal openai-compatible config: %w", err)
			}
		}
		return openai.NewCompatibleEmbeddings(oaiCfg, httpClient), nil

	case providerTypeLangchainLocal:
		var lcCfg embeddings.LangchainConfig
		if len(cfg.Parameters) > 0 {
			if err := json.Unmarshal(cfg.Parameters, &lcCfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal langchain-local config: %w", err)
			}
		}
		return embeddings.NewLangchainEmbedder(lcCfg, httpClient)
	}

	return nil, fmt.Errorf("unsupported embedding provider type: %s", cfg.Type)
}

// newIndex builds the whole Vector Index from a
// hubconfig.EmbeddingSearchConfig, grounded on the teacher's
// search.InitSearch.
func newIndex(db *sqlx.DB, httpClient *http.Client, cfg hubconfig.EmbeddingSearchConfig, log logging.LogService) (*embeddings.Index, error) {
	store, err := newVectorStore(db, cfg.VectorStore, cfg.Dimensions)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(cfg.Provider, httpClient, log)
	if err != nil {
		return nil, err
	}
	return embeddings.New(embedder, store, log, cfg.Dimensions), nil
}
