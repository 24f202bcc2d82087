package extract

import (
	"strings"

	"github.com/invoiceflow/pipeline/constants"
)

// ExtractionResult is the merged, multi-adapter outcome for one document.
// Extractions holds the successful runs keyed by adapter; Errors records
// the failed ones. Both are ordered deterministically by the canonical
// adapter enumeration, never by arrival order.
type ExtractionResult struct {
	Extractions map[constants.AdapterKind]RawExtraction
	Errors      []*AdapterError
}

// NewExtractionResult returns an empty result ready for recording.
func NewExtractionResult() *ExtractionResult {
	return &ExtractionResult{Extractions: make(map[constants.AdapterKind]RawExtraction)}
}

// Record stores one adapter outcome: a success when err is nil,
// otherwise the failure. Errors that are not *AdapterError are wrapped
// as unavailable so the taxonomy stays closed.
func (r *ExtractionResult) Record(kind constants.AdapterKind, raw RawExtraction, err error) {
	if err == nil {
		r.Extractions[kind] = raw
		return
	}
	if ae, ok := err.(*AdapterError); ok {
		r.Errors = append(r.Errors, ae)
		return
	}
	r.Errors = append(r.Errors, NewUnavailable(kind, "adapter failed", err))
}

// SortErrors orders Errors by the canonical adapter enumeration so
// repeated runs with the same failures produce identical ordering.
func (r *ExtractionResult) SortErrors() {
	for i := 1; i < len(r.Errors); i++ {
		for j := i; j > 0 && constants.AdapterRank(r.Errors[j].Adapter) < constants.AdapterRank(r.Errors[j-1].Adapter); j-- {
			r.Errors[j], r.Errors[j-1] = r.Errors[j-1], r.Errors[j]
		}
	}
}

// Succeeded reports whether at least one adapter produced an extraction.
// The pipeline only proceeds to structuring when this holds.
func (r *ExtractionResult) Succeeded() bool {
	return len(r.Extractions) > 0
}

// Corpus concatenates the raw text of all successful extractions in the
// canonical adapter order, separated by blank lines. This is the input
// for any downstream text-search or AI-structuring step.
func (r *ExtractionResult) Corpus() string {
	var parts []string
	for _, kind := range constants.AdapterOrder {
		if raw, ok := r.Extractions[kind]; ok && strings.TrimSpace(raw.Text) != "" {
			parts = append(parts, strings.TrimSpace(raw.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

// MergedFormFields collects form fields across adapters in canonical
// order. The first adapter (structured output first) wins for a key
// already covered; later adapters only add keys not seen yet.
func (r *ExtractionResult) MergedFormFields() []FormField {
	seen := make(map[string]struct{})
	var out []FormField
	for _, kind := range constants.AdapterOrder {
		raw, ok := r.Extractions[kind]
		if !ok {
			continue
		}
		for _, f := range raw.FormFields {
			key := strings.ToLower(strings.TrimSpace(f.Key))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Tables collects tables across adapters in canonical order.
func (r *ExtractionResult) Tables() []Table {
	var out []Table
	for _, kind := range constants.AdapterOrder {
		if raw, ok := r.Extractions[kind]; ok {
			out = append(out, raw.Tables...)
		}
	}
	return out
}

// BestConfidence returns the highest confidence among successful
// extractions, 0 when there are none.
func (r *ExtractionResult) BestConfidence() float64 {
	best := 0.0
	for _, raw := range r.Extractions {
		if raw.Confidence > best {
			best = raw.Confidence
		}
	}
	return best
}

// Methods lists the adapters that succeeded, in canonical order.
func (r *ExtractionResult) Methods() []string {
	var out []string
	for _, kind := range constants.AdapterOrder {
		if _, ok := r.Extractions[kind]; ok {
			out = append(out, string(kind))
		}
	}
	return out
}
