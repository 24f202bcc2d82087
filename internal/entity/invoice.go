package entity

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TotalsTolerance is the numeric slack allowed when reconciling totals.
const TotalsTolerance = 0.01

// FlagTotalsMismatch marks a structure whose grand total does not
// reconcile with its components.
const FlagTotalsMismatch = "totals_mismatch"

// Party is the vendor or customer block on an invoice.
type Party struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	GSTIN   string `json:"gstin"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// LineItem is one billed row with its GST breakdown.
type LineItem struct {
	Description   string  `json:"description"`
	HSNCode       string  `json:"hsn_code"`
	Quantity      float64 `json:"quantity"`
	Rate          float64 `json:"rate"`
	TaxableAmount float64 `json:"taxable_amount"`
	CGSTRate      float64 `json:"cgst_rate"`
	CGSTAmount    float64 `json:"cgst_amount"`
	SGSTRate      float64 `json:"sgst_rate"`
	SGSTAmount    float64 `json:"sgst_amount"`
	IGSTRate      float64 `json:"igst_rate"`
	IGSTAmount    float64 `json:"igst_amount"`
	LineTotal     float64 `json:"line_total"`
}

// Consistent reports whether the line total reconciles with taxable
// amount plus tax components within TotalsTolerance.
func (li LineItem) Consistent() bool {
	want := li.TaxableAmount + li.CGSTAmount + li.SGSTAmount + li.IGSTAmount
	return math.Abs(li.LineTotal-want) <= TotalsTolerance
}

// Totals is the invoice-level money block.
type Totals struct {
	Subtotal      float64 `json:"subtotal"`
	TotalDiscount float64 `json:"total_discount"`
	TotalTax      float64 `json:"total_tax"`
	RoundOff      float64 `json:"round_off"`
	GrandTotal    float64 `json:"grand_total"`
}

// Consistent reports whether the grand total reconciles within
// TotalsTolerance. Violations are flagged, never silently fixed.
func (t Totals) Consistent() bool {
	want := t.Subtotal - t.TotalDiscount + t.TotalTax + t.RoundOff
	return math.Abs(t.GrandTotal-want) <= TotalsTolerance
}

// Payment carries how the invoice is to be settled.
type Payment struct {
	Method        string `json:"method"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
	UPIID         string `json:"upi_id"`
}

// InvoiceStructure is the canonical structured invoice used downstream.
// Every field is schema-complete after structuring: strings default to
// "", money to 0.0, currency to INR. A structure is never edited in
// place after persistence; corrections create a new version.
type InvoiceStructure struct {
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date"` // YYYY-MM-DD
	DueDate       string     `json:"due_date"`     // YYYY-MM-DD or ""
	Vendor        Party      `json:"vendor"`
	Customer      Party      `json:"customer"`
	LineItems     []LineItem `json:"line_items"`
	Totals        Totals     `json:"totals"`
	Payment       Payment    `json:"payment"`
	Notes         string     `json:"notes"`
	CurrencyCode  string     `json:"currency_code"`

	Flagged    bool     `json:"flagged"`
	FlagReason string   `json:"flag_reason,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ProcessingMetadata is persisted alongside the structure.
type ProcessingMetadata struct {
	ExtractionMethod string   `json:"extraction_method"`
	Confidence       float64  `json:"confidence"`
	Errors           []string `json:"errors,omitempty"`
	TimingMs         int64    `json:"timing_ms"`
}

// StageEvent is a notification of pipeline progress for one invoice.
type StageEvent struct {
	InvoiceID    uuid.UUID `json:"invoice_id"`
	Stage        string    `json:"stage"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	Detail       string    `json:"detail,omitempty"`
}
