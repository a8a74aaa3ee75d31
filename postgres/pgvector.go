// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package postgres implements the Vector Index's storage driver on top of
// Postgres + pgvector, directly adapted from the teacher's
// postgres.PGVector (which persisted one row per chunked forum post into
// llm_posts_embeddings) repurposed to one row per tool.
package postgres

import (
	"context"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/mcphub/hub/embeddings"
)

// PGVector is the embeddings.VectorStore backed by Postgres + pgvector.
type PGVector struct {
	db *sqlx.DB
}

// Config parameterizes the embeddings table, selected via
// config.VectorStoreConfig.Parameters.
type Config struct {
	Dimensions int `json:"dimensions"`
}

// New creates the pgvector-backed store, creating the extension and the
// tool_embeddings table (spec.md §6.C5 schema) if they do not exist.
func New(db *sqlx.DB, cfg Config) (*PGVector, error) {
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_embeddings (
			upstream_name TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding vector(` + strconv.Itoa(cfg.Dimensions) + `),
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (upstream_name, tool_name)
		)`,
	); err != nil {
		return nil, fmt.Errorf("failed to create tool_embeddings table: %w", err)
	}

	return &PGVector{db: db}, nil
}

// Upsert implements embeddings.VectorStore.
func (pv *PGVector) Upsert(ctx context.Context, rows []embeddings.ToolEmbedding) error {
	for _, row := range rows {
		_, err := pv.db.NamedExecContext(ctx, `
			INSERT INTO tool_embeddings (upstream_name, tool_name, text, embedding, updated_at)
			VALUES (:upstream_name, :tool_name, :text, :embedding, :updated_at)
			ON CONFLICT (upstream_name, tool_name) DO UPDATE SET
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at`,
			map[string]interface{}{
				"upstream_name": row.UpstreamName,
				"tool_name":     row.ToolName,
				"text":          row.Text,
				"embedding":     pgvector.NewVector(row.Vector),
				"updated_at":    row.UpdatedAt,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to upsert tool embedding %s/%s: %w", row.UpstreamName, row.ToolName, err)
		}
	}
	return nil
}

// Search implements embeddings.VectorStore, returning the topK nearest rows
// by cosine distance, ascending (upstream_name, tool_name) as a tie-break.
func (pv *PGVector) Search(ctx context.Context, query []float32, topK int) ([]embeddings.SearchHit, error) {
	queryBuilder := sq.Select(
		"upstream_name", "tool_name", "text",
		"1 - (embedding <=> ?) as similarity",
	).
		From("tool_embeddings").
		OrderBy("similarity DESC", "upstream_name ASC", "tool_name ASC").
		PlaceholderFormat(sq.Dollar)

	if topK > 0 {
		queryBuilder = queryBuilder.Limit(uint64(topK)) //nolint:gosec
	}

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build search SQL: %w", err)
	}
	args = append([]interface{}{pgvector.NewVector(query)}, args...)

	rows, err := pv.db.QueryxContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool embeddings: %w", err)
	}
	defer rows.Close()

	var hits []embeddings.SearchHit
	for rows.Next() {
		var h embeddings.SearchHit
		if err := rows.Scan(&h.UpstreamName, &h.ToolName, &h.Text, &h.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan tool embedding row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteByUpstream implements embeddings.VectorStore.
func (pv *PGVector) DeleteByUpstream(ctx context.Context, upstreamName string) error {
	sqlStr, args, err := sq.Delete("tool_embeddings").
		Where(sq.Eq{"upstream_name": upstreamName}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := pv.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to delete tool embeddings for upstream %q: %w", upstreamName, err)
	}
	return nil
}

// DeleteByKey implements embeddings.VectorStore.
func (pv *PGVector) DeleteByKey(ctx context.Context, upstreamName, toolName string) error {
	sqlStr, args, err := sq.Delete("tool_embeddings").
		Where(sq.Eq{"upstream_name": upstreamName, "tool_name": toolName}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := pv.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to delete tool embedding %s/%s: %w", upstreamName, toolName, err)
	}
	return nil
}

// Clear implements embeddings.VectorStore, used when the embedding
// dimensionality changes and the whole index must be rebuilt.
func (pv *PGVector) Clear(ctx context.Context) error {
	if _, err := pv.db.ExecContext(ctx, "TRUNCATE TABLE tool_embeddings"); err != nil {
		return fmt.Errorf("failed to clear tool embeddings: %w", err)
	}
	return nil
}
