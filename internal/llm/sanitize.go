package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (total -> grand_total, gst -> total_tax)
// - Drops null/empty optionals
// - Coerces numeric -> string for money-ish fields, stripping separators
// - Removes unknown top-level keys (additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to our schema
	renamed("total", "grand_total")
	renamed("total_amount", "grand_total")
	renamed("gst", "total_tax")
	renamed("tax", "total_tax")
	renamed("discount", "total_discount")
	renamed("items", "line_items")

	// 2) drop null / "" for optionals; coerce money fields to strings
	moneyFields := []string{"subtotal", "total_discount", "total_tax", "round_off", "grand_total"}
	for _, k := range moneyFields {
		coerceMoney(m, k, &dropped)
	}
	if items, ok := m["line_items"].([]any); ok {
		lineMoney := []string{
			"quantity", "rate", "taxable_amount",
			"cgst_rate", "cgst_amount", "sgst_rate", "sgst_amount",
			"igst_rate", "igst_amount", "line_total",
		}
		for _, it := range items {
			row, ok := it.(map[string]any)
			if !ok {
				continue
			}
			for _, k := range lineMoney {
				coerceMoney(row, k, &dropped)
			}
		}
	}

	// 3) normalize currency casing
	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}

	// 4) remove unknown top-level keys
	allowed := map[string]struct{}{
		"invoice_number": {}, "invoice_date": {}, "due_date": {},
		"vendor": {}, "customer": {}, "line_items": {},
		"subtotal": {}, "total_discount": {}, "total_tax": {}, "round_off": {}, "grand_total": {},
		"currency_code": {}, "payment": {}, "notes": {}, "confidence": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	// 5) trim obvious strings
	trimKeys := []string{"invoice_number", "invoice_date", "due_date", "currency_code", "notes"}
	for _, k := range trimKeys {
		if v, ok := m[k].(string); ok {
			s := strings.TrimSpace(v)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// coerceMoney rewrites m[k] into a plain decimal string the schema
// accepts, or deletes it when that is impossible.
func coerceMoney(m map[string]any, k string, dropped *[]string) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			m[k] = fmt.Sprintf("%d", int64(t))
		} else {
			m[k] = fmt.Sprintf("%.2f", t)
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			delete(m, k)
			*dropped = append(*dropped, k+"(empty)")
			return
		}
		// strip separators and currency noise the schema rejects
		s = strings.NewReplacer(",", "", "₹", "", "$", "", " ", "").Replace(s)
		m[k] = s
	case nil:
		delete(m, k)
		*dropped = append(*dropped, k+"(null)")
	default:
		delete(m, k)
		*dropped = append(*dropped, k+"(type)")
	}
}
