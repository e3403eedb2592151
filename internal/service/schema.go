package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables the importer needs. Statements are
// idempotent so startup can always run this.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_collections_owner ON collections (owner_id)`,

		`CREATE TABLE IF NOT EXISTS import_batches (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			collection_id TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			total_count   INT NOT NULL DEFAULT 0,
			success_count INT NOT NULL DEFAULT 0,
			failure_count INT NOT NULL DEFAULT 0,
			started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at  TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_import_batches_owner ON import_batches (owner_id)`,

		`CREATE TABLE IF NOT EXISTS batch_items (
			id                  TEXT PRIMARY KEY,
			batch_id            TEXT NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
			source_url          TEXT NOT NULL,
			position            INT NOT NULL,
			parse_status        TEXT NOT NULL DEFAULT 'pending',
			parsed_data         JSONB,
			parse_error         TEXT NOT NULL DEFAULT '',
			loading_progress    INT NOT NULL DEFAULT 0,
			committed_entity_id TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_items_batch ON batch_items (batch_id, position)`,

		`CREATE TABLE IF NOT EXISTS properties (
			id                 TEXT PRIMARY KEY,
			owner_id           TEXT NOT NULL,
			collection_id      TEXT NOT NULL,
			source_url         TEXT NOT NULL,
			normalized_address TEXT NOT NULL DEFAULT '',
			data               JSONB NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (owner_id, collection_id, source_url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_properties_address
			ON properties (owner_id, collection_id, normalized_address)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
