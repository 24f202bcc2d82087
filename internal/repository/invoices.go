package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/entity"
)

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `id, batch_id, vendor_id, file_name, stage, version, structure, metadata, error_message, created_at, updated_at`

// Create registers an uploaded document in stage UPLOADED.
func (r *InvoiceRepository) Create(ctx context.Context, batchID uuid.UUID, fileName string) (*entity.Invoice, error) {
	now := time.Now().UTC()
	inv := &entity.Invoice{
		ID:        uuid.New(),
		BatchID:   batchID,
		FileName:  fileName,
		Stage:     string(constants.StageUploaded),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO invoices (id, batch_id, file_name, stage, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,$5,$6)
`, inv.ID, inv.BatchID, inv.FileName, inv.Stage, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return nil, common.WrapError(err, "insert invoice")
	}
	return inv, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE id = $1
`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(fmt.Sprintf("invoice %s", id))
		}
		return nil, common.WrapError(err, "get invoice")
	}
	return inv, nil
}

// ListByBatch returns a batch's invoices newest first.
func (r *InvoiceRepository) ListByBatch(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]*entity.Invoice, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+invoiceColumns+`
FROM invoices
WHERE batch_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, batchID, limit, offset)
	if err != nil {
		return nil, common.WrapError(err, "list invoices")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan invoice")
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// UpdateStage moves an invoice forward in its lifecycle. Illegal
// transitions are refused here as the last line of defense; the
// pipeline processor is the component that decides transitions. The
// write is conditional on the stage it was checked against, so two
// concurrent transitions cannot both win.
func (r *InvoiceRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage constants.ProcessingStage, detail string) error {
	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !constants.CanTransition(constants.ProcessingStage(inv.Stage), stage) {
		return common.NewAppError("STAGE_CONFLICT",
			fmt.Sprintf("cannot move invoice %s from %s to %s", id, inv.Stage, stage),
			common.ErrConflict)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET stage = $2, error_message = $3, updated_at = $4
WHERE id = $1 AND stage = $5
`, id, string(stage), detail, time.Now().UTC(), inv.Stage)
	if err != nil {
		return common.WrapError(err, "update stage")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.WrapError(err, "rows affected")
	}
	if n == 0 {
		// The row moved (or vanished) between the read and the write.
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return common.NewAppError("STAGE_CONFLICT",
			fmt.Sprintf("invoice %s left stage %s concurrently, refusing transition to %s", id, inv.Stage, stage),
			common.ErrConflict)
	}
	return nil
}

// SaveStructure stores the structured result and metadata produced by a
// pipeline run. Version stays 0: human corrections bump it.
func (r *InvoiceRepository) SaveStructure(ctx context.Context, id uuid.UUID, st entity.InvoiceStructure, meta entity.ProcessingMetadata) error {
	structJSON, err := json.Marshal(st)
	if err != nil {
		return common.WrapError(err, "marshal structure")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return common.WrapError(err, "marshal metadata")
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET structure = $2, metadata = $3, updated_at = $4
WHERE id = $1
`, id, structJSON, metaJSON, time.Now().UTC())
	if err != nil {
		return common.WrapError(err, "save structure")
	}
	return requireRow(res, fmt.Sprintf("invoice %s", id))
}

// MarkFailed records a failed run with its adapter errors.
func (r *InvoiceRepository) MarkFailed(ctx context.Context, id uuid.UUID, meta entity.ProcessingMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return common.WrapError(err, "marshal metadata")
	}
	detail := ""
	if len(meta.Errors) > 0 {
		detail = meta.Errors[0]
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE invoices
SET stage = $2, metadata = $3, error_message = $4, updated_at = $5
WHERE id = $1
`, id, string(constants.StageFailed), metaJSON, detail, time.Now().UTC())
	if err != nil {
		return common.WrapError(err, "mark failed")
	}
	return requireRow(res, fmt.Sprintf("invoice %s", id))
}

// Correct applies a human correction: the current structure is archived
// as an audit row and the invoice gets the corrected structure with a
// bumped version. Never an in-place silent edit.
func (r *InvoiceRepository) Correct(ctx context.Context, id uuid.UUID, corrected entity.InvoiceStructure, editedBy, note string) (*entity.Invoice, error) {
	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if constants.ProcessingStage(inv.Stage) != constants.StageStructuringDone {
		return nil, common.NewAppError("STAGE_CONFLICT",
			fmt.Sprintf("invoice %s is in stage %s, corrections require %s", id, inv.Stage, constants.StageStructuringDone),
			common.ErrConflict)
	}
	if inv.Structure == nil {
		return nil, common.NewAppError("NO_STRUCTURE", fmt.Sprintf("invoice %s has no structure to correct", id), common.ErrConflict)
	}

	correctedJSON, err := json.Marshal(corrected)
	if err != nil {
		return nil, common.WrapError(err, "marshal corrected structure")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, common.WrapError(err, "begin correction tx")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO invoice_versions (id, invoice_id, version, structure, edited_by, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, uuid.New(), id, inv.Version, inv.Structure, editedBy, note, now); err != nil {
		return nil, common.WrapError(err, "archive structure version")
	}

	newVersion := inv.Version + 1
	if _, err := tx.ExecContext(ctx, `
UPDATE invoices
SET structure = $2, version = $3, updated_at = $4
WHERE id = $1
`, id, correctedJSON, newVersion, now); err != nil {
		return nil, common.WrapError(err, "apply correction")
	}

	if err := tx.Commit(); err != nil {
		return nil, common.WrapError(err, "commit correction tx")
	}

	inv.Structure = correctedJSON
	inv.Version = newVersion
	inv.UpdatedAt = now
	return inv, nil
}

// Versions lists an invoice's audit trail newest first.
func (r *InvoiceRepository) Versions(ctx context.Context, id uuid.UUID) ([]*entity.InvoiceVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, invoice_id, version, structure, edited_by, note, created_at
FROM invoice_versions
WHERE invoice_id = $1
ORDER BY version DESC
`, id)
	if err != nil {
		return nil, common.WrapError(err, "list versions")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*entity.InvoiceVersion
	for rows.Next() {
		var v entity.InvoiceVersion
		if err := rows.Scan(&v.ID, &v.InvoiceID, &v.Version, &v.Structure, &v.EditedBy, &v.Note, &v.CreatedAt); err != nil {
			return nil, common.WrapError(err, "scan version")
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// SetVendor links an invoice to its deduplicated vendor record.
func (r *InvoiceRepository) SetVendor(ctx context.Context, id, vendorID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE invoices SET vendor_id = $2, updated_at = $3 WHERE id = $1
`, id, vendorID, time.Now().UTC())
	if err != nil {
		return common.WrapError(err, "set vendor")
	}
	return requireRow(res, fmt.Sprintf("invoice %s", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	var vendorID sql.Null[uuid.UUID]
	var structure, metadata []byte
	err := row.Scan(
		&inv.ID, &inv.BatchID, &vendorID, &inv.FileName, &inv.Stage, &inv.Version,
		&structure, &metadata, &inv.ErrorMessage, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if vendorID.Valid {
		inv.VendorID = &vendorID.V
	}
	inv.Structure = structure
	inv.Metadata = metadata
	return &inv, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return common.WrapError(err, "rows affected")
	}
	if n == 0 {
		return notFound(what)
	}
	return nil
}
