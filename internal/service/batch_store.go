package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zixofranic/property-sync/internal/model"
)

var (
	// ErrBatchNotFound means no batch row with that id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrItemNotFound means no batch item row with that id.
	ErrItemNotFound = errors.New("batch item not found")
)

// BatchStore persists batches and their items. Every item status write
// goes through Advance, which validates the transition and recomputes
// the batch counters in the same transaction.
type BatchStore struct {
	pool *pgxpool.Pool
}

// NewBatchStore creates a batch store.
func NewBatchStore(pool *pgxpool.Pool) *BatchStore {
	return &BatchStore{pool: pool}
}

// CreateBatch inserts a batch row.
func (s *BatchStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_batches (id, owner_id, collection_id, status, total_count, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.OwnerID, b.CollectionID, b.Status, b.TotalCount, b.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// GetBatch loads one batch.
func (s *BatchStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	var b model.Batch
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, collection_id, status, total_count, success_count, failure_count, started_at, completed_at
		 FROM import_batches WHERE id = $1`,
		batchID,
	).Scan(&b.ID, &b.OwnerID, &b.CollectionID, &b.Status,
		&b.TotalCount, &b.SuccessCount, &b.FailureCount, &b.StartedAt, &b.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

// SetBatchStatus moves the batch lifecycle; completed also stamps
// completed_at.
func (s *BatchStore) SetBatchStatus(ctx context.Context, batchID string, status model.BatchStatus) error {
	var completedAt *time.Time
	if status == model.BatchCompleted {
		now := time.Now().UTC()
		completedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_batches SET status = $2, completed_at = COALESCE($3, completed_at) WHERE id = $1`,
		batchID, status, completedAt,
	)
	if err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// DeleteBatch removes the batch; items cascade.
func (s *BatchStore) DeleteBatch(ctx context.Context, batchID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM import_batches WHERE id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// InsertItems appends items and refreshes the batch total in one
// transaction.
func (s *BatchStore) InsertItems(ctx context.Context, items []model.BatchItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert items: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range items {
		it := &items[i]
		data, err := marshalParsed(it.ParsedData)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO batch_items
			 (id, batch_id, source_url, position, parse_status, parsed_data, parse_error, loading_progress, committed_entity_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
			it.ID, it.BatchID, it.SourceURL, it.Position, it.Status, data,
			it.ParseError, it.LoadingProgress, it.CommittedEntityID, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	if err := recountBatch(ctx, tx, items[0].BatchID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// NextPosition returns the position for the next appended item.
func (s *BatchStore) NextPosition(ctx context.Context, batchID string) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM batch_items WHERE batch_id = $1`,
		batchID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return next, nil
}

// GetItem loads one item.
func (s *BatchStore) GetItem(ctx context.Context, itemID string) (*model.BatchItem, error) {
	row := s.pool.QueryRow(ctx, itemSelect+` WHERE id = $1`, itemID)
	it, err := scanItem(row)
	if err == pgx.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// ListItems returns the batch's items in input order.
func (s *BatchStore) ListItems(ctx context.Context, batchID string) ([]model.BatchItem, error) {
	rows, err := s.pool.Query(ctx, itemSelect+` WHERE batch_id = $1 ORDER BY position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.BatchItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// ItemsInStatus returns the batch's items currently in one of the given
// statuses, in input order.
func (s *BatchStore) ItemsInStatus(ctx context.Context, batchID string, statuses ...model.ParseStatus) ([]model.BatchItem, error) {
	all, err := s.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var items []model.BatchItem
	for _, it := range all {
		for _, st := range statuses {
			if it.Status == st {
				items = append(items, it)
				break
			}
		}
	}
	return items, nil
}

// Advance moves an item to the next parse status. The current status is
// read under a row lock, the transition is validated, mutate (if any)
// adjusts payload fields, and the batch counters are recomputed before
// commit. Progress defaults to the status's value; mutate may override.
func (s *BatchStore) Advance(ctx context.Context, itemID string, to model.ParseStatus, mutate func(*model.BatchItem)) (*model.BatchItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("advance item: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, itemSelect+` WHERE id = $1 FOR UPDATE`, itemID)
	it, err := scanItem(row)
	if err == pgx.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("advance item: %w", err)
	}

	if err := model.CheckTransition(it.Status, to); err != nil {
		return nil, err
	}

	it.Status = to
	if progress, ok := model.ProgressFor(to); ok {
		it.LoadingProgress = progress
	}
	if mutate != nil {
		mutate(it)
	}
	it.UpdatedAt = time.Now().UTC()

	data, err := marshalParsed(it.ParsedData)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE batch_items SET
			parse_status = $2, parsed_data = $3, parse_error = $4,
			loading_progress = $5, committed_entity_id = $6, updated_at = $7
		 WHERE id = $1`,
		it.ID, it.Status, data, it.ParseError, it.LoadingProgress, it.CommittedEntityID, it.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("advance item %s: %w", itemID, err)
	}

	if err := recountBatch(ctx, tx, it.BatchID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("advance item: %w", err)
	}
	return it, nil
}

const itemSelect = `SELECT id, batch_id, source_url, position, parse_status, parsed_data, parse_error, loading_progress, committed_entity_id, created_at, updated_at FROM batch_items`

func scanItem(row pgx.Row) (*model.BatchItem, error) {
	var it model.BatchItem
	var data []byte
	err := row.Scan(&it.ID, &it.BatchID, &it.SourceURL, &it.Position, &it.Status,
		&data, &it.ParseError, &it.LoadingProgress, &it.CommittedEntityID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		var p model.ParsedProperty
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode parsed data for item %s: %w", it.ID, err)
		}
		it.ParsedData = &p
	}
	return &it, nil
}

func marshalParsed(p *model.ParsedProperty) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal parsed data: %w", err)
	}
	return data, nil
}

// recountBatch derives the batch counters from its items. success here
// means the latest phase produced usable data, matching
// ParseStatus.Succeeded.
func recountBatch(ctx context.Context, tx pgx.Tx, batchID string) error {
	_, err := tx.Exec(ctx, `
	UPDATE import_batches b SET
		total_count   = c.total,
		success_count = c.success,
		failure_count = c.failed
	FROM (
		SELECT count(*) AS total,
		       count(*) FILTER (WHERE parse_status IN ('quick_parsed','parsed','imported')) AS success,
		       count(*) FILTER (WHERE parse_status = 'failed') AS failed
		FROM batch_items WHERE batch_id = $1
	) c
	WHERE b.id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("recount batch %s: %w", batchID, err)
	}
	return nil
}
