package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/entity"
)

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, name string) (*entity.Batch, error) {
	b := &entity.Batch{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO batches (id, name, created_at) VALUES ($1,$2,$3)
`, b.ID, b.Name, b.CreatedAt)
	if err != nil {
		return nil, common.WrapError(err, "insert batch")
	}
	return b, nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, created_at FROM batches WHERE id = $1
`, id)
	var b entity.Batch
	if err := row.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(fmt.Sprintf("batch %s", id))
		}
		return nil, common.WrapError(err, "get batch")
	}
	return &b, nil
}

func (r *BatchRepository) List(ctx context.Context, limit, offset int) ([]*entity.Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, created_at FROM batches ORDER BY created_at DESC LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, common.WrapError(err, "list batches")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*entity.Batch
	for rows.Next() {
		var b entity.Batch
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, common.WrapError(err, "scan batch")
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// Summary aggregates one batch for the dashboard: counts per stage,
// flagged documents and the grand-total sum over structured invoices.
func (r *BatchRepository) Summary(ctx context.Context, id uuid.UUID) (*entity.BatchSummary, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT stage, COUNT(*) FROM invoices WHERE batch_id = $1 GROUP BY stage
`, id)
	if err != nil {
		return nil, common.WrapError(err, "summarize stages")
	}
	defer func() {
		_ = rows.Close()
	}()

	s := &entity.BatchSummary{
		BatchID:      id,
		StageCounts:  make(map[string]int),
		CurrencyCode: constants.DefaultCurrency,
	}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, common.WrapError(err, "scan stage count")
		}
		s.StageCounts[stage] = n
		s.InvoiceCount += n
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "summarize stages")
	}

	row := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE (structure->>'flagged')::boolean),
	COALESCE(SUM((structure->'totals'->>'grand_total')::numeric), 0)
FROM invoices
WHERE batch_id = $1 AND structure IS NOT NULL
`, id)
	if err := row.Scan(&s.FlaggedCount, &s.GrandTotalSum); err != nil {
		return nil, common.WrapError(err, "summarize totals")
	}
	return s, nil
}
