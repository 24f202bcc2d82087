package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateJSONAgainstSchema checks a model reply against the invoice
// field schema. It runs twice per extraction: on the raw reply, and
// again after lenient sanitization before any field is trusted.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice-fields.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("register schema: %w", err)
	}
	schema, err := compiler.Compile("invoice-fields.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("reply does not conform to the invoice schema: %w", err)
	}
	return nil
}
