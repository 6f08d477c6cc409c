package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const convSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "protocol_version", "conversation_id", "performative", "step", "agent_id"],
  "properties": {
    "type": {"const": "CONV"},
    "protocol_version": {"type": "string", "minLength": 1},
    "conversation_id": {"type": "string", "minLength": 1},
    "performative": {"enum": ["REQUEST", "AGREE", "FAILURE", "INFORM"]},
    "step": {"type": "integer", "minimum": 0},
    "agent_id": {"type": "string"},
    "content": {}
  }
}`

const helloSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "protocol_version"],
  "properties": {
    "type": {"const": "HELLO"},
    "protocol_version": {"type": "string", "minLength": 1},
    "agent_name": {"type": "string"},
    "max_queue": {"type": "integer", "minimum": 0}
  }
}`

var (
	convSchema  = jsonschema.MustCompileString("conv.schema.json", convSchemaJSON)
	helloSchema = jsonschema.MustCompileString("hello.schema.json", helloSchemaJSON)
)

// ValidateConv checks a raw CONV message against the envelope schema.
func ValidateConv(raw []byte) error {
	return validate(convSchema, raw)
}

// ValidateHello checks a raw HELLO message against its schema.
func ValidateHello(raw []byte) error {
	return validate(helloSchema, raw)
}

func validate(s *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
