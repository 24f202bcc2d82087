package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/async"
	"github.com/invoiceflow/pipeline/internal/common"
	"github.com/invoiceflow/pipeline/internal/entity"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createBatchRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) createBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, common.NewAppError("BAD_REQUEST", "name is required", common.ErrInvalidInput))
		return
	}
	b, err := s.batches.Create(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) listBatches(c *gin.Context) {
	limit, offset := pagination(c)
	out, err := s.batches.List(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": out})
}

func (s *Server) getBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := s.batches.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) batchSummary(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sum, err := s.batches.Summary(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) exportBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := s.exporter.ExportBatchXLSX(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="batch-`+id.String()+`.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", out)
}

// uploadInvoice accepts a PDF, registers it in stage UPLOADED and hands
// it to the worker queue. The response returns before processing runs.
func (s *Server) uploadInvoice(c *gin.Context) {
	batchID, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := s.batches.GetByID(c.Request.Context(), batchID); err != nil {
		fail(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, common.NewAppError("BAD_REQUEST", "multipart field 'file' is required", common.ErrInvalidInput))
		return
	}
	if !constants.IsAllowedExt(filepath.Ext(fh.Filename)) {
		fail(c, common.NewAppError("BAD_REQUEST", "only PDF uploads are accepted", common.ErrInvalidInput))
		return
	}
	maxBytes := s.cfg.MaxUploadMB << 20
	if fh.Size > maxBytes {
		fail(c, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("upload exceeds the %d MB limit", s.cfg.MaxUploadMB), common.ErrTooLarge))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, common.WrapError(err, "open upload"))
		return
	}
	defer func() {
		_ = f.Close()
	}()
	// Read one byte past the cap so an understated Size cannot sneak a
	// truncated document into the pipeline.
	pdf, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		fail(c, common.WrapError(err, "read upload"))
		return
	}
	if int64(len(pdf)) > maxBytes {
		fail(c, common.NewAppError("FILE_TOO_LARGE",
			fmt.Sprintf("upload exceeds the %d MB limit", s.cfg.MaxUploadMB), common.ErrTooLarge))
		return
	}
	if !constants.LooksLikePDF(pdf) {
		fail(c, common.NewAppError("BAD_REQUEST", "file content is not a PDF", common.ErrInvalidInput))
		return
	}

	inv, err := s.invoices.Create(c.Request.Context(), batchID, fh.Filename)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.queue.Enqueue(c.Request.Context(), async.Job{
		InvoiceID:   inv.ID,
		FileName:    inv.FileName,
		PDF:         pdf,
		SubmittedAt: time.Now(),
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, inv)
}

func (s *Server) listInvoices(c *gin.Context) {
	batchID, ok := pathID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	out, err := s.invoices.ListByBatch(c.Request.Context(), batchID, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": out})
}

func (s *Server) getInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inv, err := s.invoices.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) invoiceVersions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := s.invoices.Versions(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// approveInvoice moves a reviewed invoice to APPROVED and registers its
// vendor in the deduplicated vendor table.
func (s *Server) approveInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.invoices.UpdateStage(ctx, id, constants.StageApproved, ""); err != nil {
		fail(c, err)
		return
	}

	if len(inv.Structure) > 0 {
		var st entity.InvoiceStructure
		if err := json.Unmarshal(inv.Structure, &st); err == nil && st.Vendor.Name != "" {
			v, err := s.vendors.Upsert(ctx, st.Vendor.Name, st.Vendor.GSTIN, st.Vendor.Address)
			if err != nil {
				s.log.Warn("approve.vendor_upsert_failed", "invoice_id", id, "error", err)
			} else if err := s.invoices.SetVendor(ctx, id, v.ID); err != nil {
				s.log.Warn("approve.vendor_link_failed", "invoice_id", id, "error", err)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"stage": constants.StageApproved})
}

func (s *Server) rejectInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.invoices.UpdateStage(c.Request.Context(), id, constants.StageRejected, reasonFromBody(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": constants.StageRejected})
}

type correctRequest struct {
	Structure entity.InvoiceStructure `json:"structure" binding:"required"`
	EditedBy  string                  `json:"edited_by" binding:"required"`
	Note      string                  `json:"note"`
}

// correctInvoice applies a reviewer's correction: the previous
// structure goes into the audit trail and the version bumps.
func (s *Server) correctInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, common.NewAppError("BAD_REQUEST", "structure and edited_by are required", common.ErrInvalidInput))
		return
	}
	inv, err := s.invoices.Correct(c.Request.Context(), id, req.Structure, req.EditedBy, req.Note)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) listVendors(c *gin.Context) {
	limit, offset := pagination(c)
	out, err := s.vendors.List(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": out})
}

func (s *Server) getVendor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	v, err := s.vendors.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, common.NewAppError("BAD_REQUEST", "invalid id", common.ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, offset = 100, 0
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		limit = n
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

func reasonFromBody(c *gin.Context) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return ""
	}
	return body.Reason
}
