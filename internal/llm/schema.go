package llm

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as
// a generic map. We pass it to the model as a structured output
// constraint and also use it locally to validate what comes back.
func BuildInvoiceJSONSchema() map[string]any {
	party := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":    map[string]any{"type": "string"},
			"address": map[string]any{"type": "string"},
			"gstin":   map[string]any{"type": "string"},
			"phone":   map[string]any{"type": "string"},
			"email":   map[string]any{"type": "string"},
		},
	}

	lineItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description":    map[string]any{"type": "string"},
			"hsn_code":       map[string]any{"type": "string"},
			"quantity":       decimalProp(),
			"rate":           decimalProp(),
			"taxable_amount": decimalProp(),
			"cgst_rate":      decimalProp(),
			"cgst_amount":    decimalProp(),
			"sgst_rate":      decimalProp(),
			"sgst_amount":    decimalProp(),
			"igst_rate":      decimalProp(),
			"igst_amount":    decimalProp(),
			"line_total":     decimalProp(),
		},
	}

	payment := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"method":         map[string]any{"type": "string"},
			"bank_name":      map[string]any{"type": "string"},
			"account_number": map[string]any{"type": "string"},
			"ifsc_code":      map[string]any{"type": "string"},
			"upi_id":         map[string]any{"type": "string"},
		},
	}

	props := map[string]any{
		"invoice_number": map[string]any{"type": "string", "minLength": 1},
		"invoice_date":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"due_date":       map[string]any{"type": "string"},
		"vendor":         party,
		"customer":       party,
		"line_items":     map[string]any{"type": "array", "items": lineItem},
		"subtotal":       decimalProp(),
		"total_discount": decimalProp(),
		"total_tax":      decimalProp(),
		"round_off":      decimalProp(),
		"grand_total":    decimalProp(),
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"payment":        payment,
		"notes":          map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"invoice_number", "grand_total", "currency_code", "vendor"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`, // allow negatives for round-off
	}
}
