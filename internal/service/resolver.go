package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCollectionNotFound means the collection does not exist or belongs
// to someone else. Callers treat both the same way.
var ErrCollectionNotFound = errors.New("collection not found")

// CollectionResolver checks batch destinations against the collections
// table.
type CollectionResolver struct {
	pool       *pgxpool.Pool
	autoCreate bool
}

// NewCollectionResolver creates a collection resolver. With autoCreate
// set, a destination that does not exist yet is created on first use.
func NewCollectionResolver(pool *pgxpool.Pool, autoCreate bool) *CollectionResolver {
	return &CollectionResolver{pool: pool, autoCreate: autoCreate}
}

// Resolve verifies the collection exists and is owned by ownerID.
func (r *CollectionResolver) Resolve(ctx context.Context, ownerID, collectionID string) error {
	var one int
	err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM collections WHERE id=$1 AND owner_id=$2`,
		collectionID, ownerID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		if !r.autoCreate {
			return ErrCollectionNotFound
		}
		created, cerr := r.Ensure(ctx, ownerID, collectionID, "")
		if cerr != nil {
			return cerr
		}
		if !created {
			// The id exists under another owner.
			return ErrCollectionNotFound
		}
		return nil
	}
	return err
}

// Ensure creates the collection if it does not exist yet; created
// reports whether this call inserted it. An existing id is left alone,
// whoever owns it.
func (r *CollectionResolver) Ensure(ctx context.Context, ownerID, collectionID, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO collections (id, owner_id, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		collectionID, ownerID, name,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
