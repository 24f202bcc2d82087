package llm

import "context"

// PartyFields mirrors one party block as the model returns it.
type PartyFields struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	GSTIN   string `json:"gstin,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// LineItemFields keeps every numeric as a decimal string; tolerant
// parsing into floats happens in the structurer, not here.
type LineItemFields struct {
	Description   string `json:"description,omitempty"`
	HSNCode       string `json:"hsn_code,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	Rate          string `json:"rate,omitempty"`
	TaxableAmount string `json:"taxable_amount,omitempty"`
	CGSTRate      string `json:"cgst_rate,omitempty"`
	CGSTAmount    string `json:"cgst_amount,omitempty"`
	SGSTRate      string `json:"sgst_rate,omitempty"`
	SGSTAmount    string `json:"sgst_amount,omitempty"`
	IGSTRate      string `json:"igst_rate,omitempty"`
	IGSTAmount    string `json:"igst_amount,omitempty"`
	LineTotal     string `json:"line_total,omitempty"`
}

// PaymentFields mirrors the payment block.
type PaymentFields struct {
	Method        string `json:"method,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	IFSCCode      string `json:"ifsc_code,omitempty"`
	UPIID         string `json:"upi_id,omitempty"`
}

// InvoiceFields is the normalized shape we want from the model.
type InvoiceFields struct {
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceDate   string           `json:"invoice_date"` // YYYY-MM-DD
	DueDate       string           `json:"due_date,omitempty"`
	Vendor        PartyFields      `json:"vendor"`
	Customer      PartyFields      `json:"customer,omitempty"`
	LineItems     []LineItemFields `json:"line_items,omitempty"`
	Subtotal      string           `json:"subtotal,omitempty"`
	TotalDiscount string           `json:"total_discount,omitempty"`
	TotalTax      string           `json:"total_tax,omitempty"`
	RoundOff      string           `json:"round_off,omitempty"`
	GrandTotal    string           `json:"grand_total"`
	CurrencyCode  string           `json:"currency_code"` // ISO 4217
	Payment       PaymentFields    `json:"payment,omitempty"`
	Notes         string           `json:"notes,omitempty"`

	ModelConfidence float32 `json:"confidence,omitempty"` // optional (0..1)
}

// ExtractRequest packages the structuring input.
type ExtractRequest struct {
	Corpus          string            // combined OCR text, canonical adapter order
	FormHints       map[string]string // key-value pairs from structured adapters
	FileNameHint    string
	DefaultCurrency string
}

// FieldExtractor is the interface the structurer depends on.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (InvoiceFields, []byte /*rawJSON*/, error)
}
