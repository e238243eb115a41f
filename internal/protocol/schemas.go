package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed stream.schema.json
var streamSchemaJSON string

var (
	streamOnce   sync.Once
	streamSchema *jsonschema.Schema
	streamErr    error
)

// ValidateMessage checks a raw server->client message against the stream
// schema.
func ValidateMessage(b []byte) error {
	streamOnce.Do(func() {
		streamSchema, streamErr = jsonschema.CompileString("stream.schema.json", streamSchemaJSON)
	})
	if streamErr != nil {
		return fmt.Errorf("stream schema: %w", streamErr)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return streamSchema.Validate(v)
}
