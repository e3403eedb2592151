package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zixofranic/property-sync/internal/model"
)

// PropertyStore persists committed properties.
type PropertyStore struct {
	pool *pgxpool.Pool
}

// NewPropertyStore creates a property store.
func NewPropertyStore(pool *pgxpool.Pool) *PropertyStore {
	return &PropertyStore{pool: pool}
}

// Commit inserts or updates a property in the destination collection,
// keyed by source URL. Returns the property id and whether a new row
// was created.
func (s *PropertyStore) Commit(ctx context.Context, ownerID, collectionID string, p *model.ParsedProperty) (id string, inserted bool, err error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", false, fmt.Errorf("marshal property: %w", err)
	}

	var existed bool
	_ = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM properties WHERE owner_id=$1 AND collection_id=$2 AND source_url=$3)`,
		ownerID, collectionID, p.SourceURL,
	).Scan(&existed)

	query := `
	INSERT INTO properties (id, owner_id, collection_id, source_url, normalized_address, data)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (owner_id, collection_id, source_url)
	DO UPDATE SET data = EXCLUDED.data, normalized_address = EXCLUDED.normalized_address, updated_at = now()
	RETURNING id
	`
	err = s.pool.QueryRow(ctx, query,
		uuid.NewString(), ownerID, collectionID, p.SourceURL, NormalizeAddress(p.Address.Full), data,
	).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("commit property: %w", err)
	}
	return id, !existed, nil
}

// UpdateParsedData replaces a committed property's payload, used when a
// background full parse upgrades an instant placeholder.
func (s *PropertyStore) UpdateParsedData(ctx context.Context, propertyID string, p *model.ParsedProperty) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal property: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE properties SET data = $2, normalized_address = $3, updated_at = now() WHERE id = $1`,
		propertyID, data, NormalizeAddress(p.Address.Full),
	)
	if err != nil {
		return fmt.Errorf("update property %s: %w", propertyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update property %s: not found", propertyID)
	}
	return nil
}

// FindBySourceURL returns the property in the collection with this
// exact source URL, if any.
func (s *PropertyStore) FindBySourceURL(ctx context.Context, ownerID, collectionID, sourceURL string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM properties WHERE owner_id=$1 AND collection_id=$2 AND source_url=$3`,
		ownerID, collectionID, sourceURL,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// FindByAddress returns the property in the collection with this
// normalized address, if any.
func (s *PropertyStore) FindByAddress(ctx context.Context, ownerID, collectionID, normalized string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM properties WHERE owner_id=$1 AND collection_id=$2 AND normalized_address=$3 LIMIT 1`,
		ownerID, collectionID, normalized,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
