// Package export produces XLSX workbooks from structured invoices.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/invoiceflow/pipeline/internal/entity"
	"github.com/invoiceflow/pipeline/internal/repository"
)

// Service is a tiny façade over repositories that produces XLSX bytes
// for batch exports.
type Service struct {
	invoices *repository.InvoiceRepository
	batches  *repository.BatchRepository
	logger   *slog.Logger
}

func NewService(invoices *repository.InvoiceRepository, batches *repository.BatchRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, batches: batches, logger: logger}
}

var headers = []string{
	"Invoice Number",
	"Invoice Date",
	"Vendor",
	"Vendor GSTIN",
	"Subtotal",
	"Total Tax",
	"Grand Total",
	"Currency",
	"Stage",
	"Flagged",
	"Warnings",
	"File Name",
}

// ExportBatchXLSX returns a workbook with one row per invoice in the
// batch. Invoices without a structure yet appear with their stage and
// empty money columns.
func (s *Service) ExportBatchXLSX(ctx context.Context, batchID uuid.UUID) ([]byte, error) {
	start := time.Now()

	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	invs, err := s.invoices.ListByBatch(ctx, batchID, 500, 0)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Invoices"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		s.logger.Warn("export.delete_default_sheet", "error", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, inv := range invs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		var st entity.InvoiceStructure
		hasStructure := len(inv.Structure) > 0
		if hasStructure {
			if err := json.Unmarshal(inv.Structure, &st); err != nil {
				s.logger.Warn("export.bad_structure", "invoice_id", inv.ID, "error", err)
				hasStructure = false
			}
		}

		if hasStructure {
			write(1, st.InvoiceNumber)
			write(2, st.InvoiceDate)
			write(3, st.Vendor.Name)
			write(4, st.Vendor.GSTIN)
			write(5, st.Totals.Subtotal)
			write(6, st.Totals.TotalTax)
			write(7, st.Totals.GrandTotal)
			write(8, st.CurrencyCode)
			write(10, st.Flagged)
			write(11, joinTruncated(st.Warnings, 140))
		}
		write(9, inv.Stage)
		write(12, inv.FileName)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "B", 14)
	_ = f.SetColWidth(sheet, "C", "C", 30)
	_ = f.SetColWidth(sheet, "D", "D", 20)
	_ = f.SetColWidth(sheet, "E", "G", 14)
	_ = f.SetColWidth(sheet, "K", "K", 48)
	_ = f.SetColWidth(sheet, "L", "L", 36)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.batch_xlsx",
		"batch_id", batchID, "rows", row-2,
		"bytes", buf.Len(), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

func joinTruncated(parts []string, maxLen int) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	if len(out) > maxLen {
		return out[:maxLen-1] + "…"
	}
	return out
}
