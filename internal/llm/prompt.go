package llm

import (
	"sort"
	"strings"
)

// BuildSystemPrompt composes the system message with currency defaults
// and strict-but-practical formatting rules for GST invoices.
func BuildSystemPrompt(req ExtractRequest) string {
	defCur := strings.TrimSpace(req.DefaultCurrency)
	if defCur == "" {
		defCur = "INR"
	}

	parts := []string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Currency must be a 3-letter ISO 4217 code; default to " + defCur + " if uncertain.",
		"All money and quantity values are decimal strings without thousands separators or currency symbols.",
		"For each line item include the GST breakdown (CGST/SGST for intra-state, IGST for inter-state) when visible.",
		"GSTIN values are 15-character alphanumeric codes; copy them exactly as printed.",
		"Do not invent values. If a field is not present on the invoice, omit it.",
		"Never output null.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the OCR corpus plus key-value hints from
// structured adapters. Hints are emitted in sorted key order so repeated
// runs build identical prompts.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if f := strings.TrimSpace(req.FileNameHint); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}

	if len(req.FormHints) > 0 {
		keys := make([]string, 0, len(req.FormHints))
		for k := range req.FormHints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nRecognized fields (from document analysis, may contain OCR noise):\n")
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(req.FormHints[k])
			b.WriteString("\n")
		}
	}

	corpus := strings.TrimSpace(req.Corpus)
	b.WriteString("\nInvoice text (first ~6k chars):\n")
	if len(corpus) > 6000 {
		b.WriteString(corpus[:6000])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(corpus)
	}
	return b.String()
}
