package nlp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema describes the JSON object the classifier must return.
const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["intent_type", "confidence"],
  "properties": {
    "intent_type": {
      "type": "string",
      "enum": ["new_transaction", "slot_fill", "confirmation", "cancellation",
               "modification", "bare_value", "conversation", "unknown"]
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "extracted_command_hint": {
      "type": ["object", "null"],
      "properties": {
        "direction": {"type": "string"},
        "counterparty": {"type": "string"},
        "items": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": {"type": "string"},
              "quantity": {"type": "number"},
              "unit_price": {"type": "number"}
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("classify_response.json", bytes.NewReader([]byte(responseSchema))); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("classify_response.json")
	})
	return compiledSchema, schemaErr
}

// DecodeResponse validates raw classifier output against the response schema
// and decodes it. Any failure wraps ErrMalformedOutput.
func DecodeResponse(data []byte) (*ClassifyResponse, error) {
	s, err := schema()
	if err != nil {
		return nil, fmt.Errorf("nlp: compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := s.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	var resp ClassifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	resp.Intent = normaliseIntent(string(resp.Intent))
	return &resp, nil
}
