package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Batch groups invoices uploaded together.
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Vendor is the deduplicated supplier record built from structured
// invoices. Identity is (normalized name, GSTIN).
type Vendor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	GSTIN     string    `json:"gstin"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invoice is the persisted processing record for one uploaded document.
type Invoice struct {
	ID           uuid.UUID       `json:"id"`
	BatchID      uuid.UUID       `json:"batch_id"`
	VendorID     *uuid.UUID      `json:"vendor_id,omitempty"`
	FileName     string          `json:"file_name"`
	Stage        string          `json:"stage"`
	Version      int             `json:"version"`
	Structure    json.RawMessage `json:"structure,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// InvoiceVersion is one audit-trail row: the structure as it stood at a
// given version together with who changed it and why.
type InvoiceVersion struct {
	ID        uuid.UUID       `json:"id"`
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Version   int             `json:"version"`
	Structure json.RawMessage `json:"structure"`
	EditedBy  string          `json:"edited_by"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BatchSummary aggregates a batch for dashboards.
type BatchSummary struct {
	BatchID       uuid.UUID      `json:"batch_id"`
	InvoiceCount  int            `json:"invoice_count"`
	StageCounts   map[string]int `json:"stage_counts"`
	FlaggedCount  int            `json:"flagged_count"`
	GrandTotalSum float64        `json:"grand_total_sum"`
	CurrencyCode  string         `json:"currency_code"`
}
