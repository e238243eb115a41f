package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed policy.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("policy.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// validateSchema checks a yaml-decoded document. The document is round-tripped
// through JSON so numbers reach the validator as float64.
func validateSchema(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("policy schema: %w", err)
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("policy.yaml: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("policy.yaml: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("policy.yaml: %w", err)
	}
	return nil
}
