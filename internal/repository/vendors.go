package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/entity"
)

type VendorRepository struct {
	db *sql.DB
}

func NewVendorRepository(db *sql.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

// Upsert deduplicates on (normalized name, GSTIN): an existing vendor
// gets its address refreshed, otherwise a new record is created.
func (r *VendorRepository) Upsert(ctx context.Context, name, gstin, address string) (*entity.Vendor, error) {
	name = strings.TrimSpace(name)
	gstin = strings.ToUpper(strings.TrimSpace(gstin))
	if name == "" {
		return nil, common.NewAppError("INVALID_VENDOR", "vendor name is required", common.ErrInvalidInput)
	}

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
INSERT INTO vendors (id, name, gstin, address, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (name, gstin) DO UPDATE
SET address = EXCLUDED.address, updated_at = EXCLUDED.updated_at
RETURNING id, name, gstin, address, created_at, updated_at
`, uuid.New(), name, gstin, address, now)

	var v entity.Vendor
	if err := row.Scan(&v.ID, &v.Name, &v.GSTIN, &v.Address, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, common.WrapError(err, "upsert vendor")
	}
	return &v, nil
}

func (r *VendorRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Vendor, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, gstin, address, created_at, updated_at FROM vendors WHERE id = $1
`, id)
	var v entity.Vendor
	if err := row.Scan(&v.ID, &v.Name, &v.GSTIN, &v.Address, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(fmt.Sprintf("vendor %s", id))
		}
		return nil, common.WrapError(err, "get vendor")
	}
	return &v, nil
}

func (r *VendorRepository) List(ctx context.Context, limit, offset int) ([]*entity.Vendor, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, gstin, address, created_at, updated_at
FROM vendors
ORDER BY name ASC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, common.WrapError(err, "list vendors")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*entity.Vendor
	for rows.Next() {
		var v entity.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.GSTIN, &v.Address, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, common.WrapError(err, "scan vendor")
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
