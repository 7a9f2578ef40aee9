/*
schema.go - JSON Schema validation for trade submission

PURPOSE:
  Rejects structurally malformed POST /api/trades payloads before any
  domain logic runs. Shape checks live here (types, required fields,
  positive quantities, direction enum); semantic checks (tenant membership,
  location ownership, the external boundary rule) live in ledger/validator.go
  and run inside the write transaction.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createTradeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"timestamp": {"type": "string"},
		"from_location_id": {"type": "integer"},
		"to_location_id": {"type": "integer"},
		"lines": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"item_id": {"type": "integer", "minimum": 1},
					"quantity": {"type": "integer", "minimum": 1},
					"direction": {"type": "string", "enum": ["GAINED", "GIVEN"]},
					"from_user_id": {"type": "integer"},
					"from_location_id": {"type": "integer"},
					"to_user_id": {"type": "integer"},
					"to_location_id": {"type": "integer"},
					"reason": {"type": "string"}
				},
				"required": ["item_id", "quantity", "direction"],
				"additionalProperties": false
			}
		}
	},
	"required": ["lines"],
	"additionalProperties": false
}`

var createTradeSchema = jsonschema.MustCompileString("trade.json", createTradeSchemaJSON)

// decodeTradeRequest validates the raw payload against the schema and then
// decodes it. Schema violations come back as one readable error string.
func decodeTradeRequest(r io.Reader) (*CreateTradeRequest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := createTradeSchema.Validate(doc); err != nil {
		return nil, err
	}

	var req CreateTradeRequest
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
