package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/invoiceflow/pipeline/constants"
)

// Adapter wraps one external OCR/AI engine behind a uniform extraction
// contract. Implementations must return a typed *AdapterError for the
// failure modes below; anything else is treated as an internal fault.
type Adapter interface {
	Kind() constants.AdapterKind
	Extract(ctx context.Context, pdf []byte) (RawExtraction, error)
}

// FailureReason classifies an adapter failure.
type FailureReason string

const (
	// ReasonUnavailable: the backing engine/service cannot be reached.
	// Transient; safe for the caller to retry with backoff.
	ReasonUnavailable FailureReason = "unavailable"
	// ReasonTimeout: the adapter exceeded its configured deadline.
	ReasonTimeout FailureReason = "timeout"
	// ReasonRejected: the input is not a processable document. Permanent
	// for these bytes; do not retry the same adapter with them.
	ReasonRejected FailureReason = "rejected"
)

// AdapterError is the failure result of a single adapter run.
type AdapterError struct {
	Adapter constants.AdapterKind
	Reason  FailureReason
	Message string
	Cause   error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Adapter, e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Adapter, e.Reason, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

func NewUnavailable(kind constants.AdapterKind, msg string, cause error) *AdapterError {
	return &AdapterError{Adapter: kind, Reason: ReasonUnavailable, Message: msg, Cause: cause}
}

func NewTimeout(kind constants.AdapterKind, msg string, cause error) *AdapterError {
	return &AdapterError{Adapter: kind, Reason: ReasonTimeout, Message: msg, Cause: cause}
}

func NewRejected(kind constants.AdapterKind, msg string, cause error) *AdapterError {
	return &AdapterError{Adapter: kind, Reason: ReasonRejected, Message: msg, Cause: cause}
}

// FormField is one key-value pair recognized by a structured adapter.
type FormField struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"` // 0..100
}

// Table holds ordered rows of ordered cell strings. Row and column
// counts are always derived from Rows, never stored, so they cannot
// drift from the data.
type Table struct {
	Rows [][]string `json:"rows"`
}

// RowCount returns the number of rows.
func (t Table) RowCount() int { return len(t.Rows) }

// ColumnCount returns the width of the widest row. Ragged rows are
// legal; missing cells read as empty strings via Cell.
func (t Table) ColumnCount() int {
	max := 0
	for _, r := range t.Rows {
		if len(r) > max {
			max = len(r)
		}
	}
	return max
}

// Cell returns the cell at (row, col), or "" when the row is shorter
// than col or the indexes are out of range.
func (t Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	if col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// RawExtraction is the normalized output of a single adapter run.
// Immutable once produced by an adapter.
type RawExtraction struct {
	Source     constants.AdapterKind `json:"source"`
	Text       string                `json:"text"`
	Confidence float64               `json:"confidence"` // 0..100
	FormFields []FormField           `json:"form_fields,omitempty"`
	Tables     []Table               `json:"tables,omitempty"`
	Timestamp  time.Time             `json:"timestamp_utc"`
}

// MeanConfidence aggregates per-token confidences as the arithmetic mean
// over tokens with confidence > 0. No scored tokens yields 0, not an
// error.
func MeanConfidence(scores []float64) float64 {
	var sum float64
	var n int
	for _, s := range scores {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
