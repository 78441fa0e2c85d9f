package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURL = "schema://quiz-sync/envelope.json"

const envelopeSchema = `{
  "type": "object",
  "required": ["step"],
  "properties": {
    "step": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["STATUS:SUCCESSFUL", "STATUS:FAILED"]},
    "payload": {"type": ["object", "null"]}
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Validate checks a raw frame against the envelope schema.
func Validate(data []byte) error {
	schema, err := envelope()
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	return nil
}

func envelope() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(envelopeSchema), &doc); err != nil {
			compileErr = fmt.Errorf("parse envelope schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(envelopeSchemaURL)
	})
	return compiled, compileErr
}
