package confirmation

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON describes the raw confirmation input. Agents see it as the tool
// parameter schema; the validator uses it for type checks only and reports
// missing fields itself.
const schemaJSON = `{
  "type": "object",
  "properties": {
    "customerId": {"type": "string", "description": "Customer identifier, e.g. CUST009"},
    "storeName": {"type": "string", "description": "Store or company name"},
    "email": {"type": "string", "description": "Customer email address"},
    "phone": {"type": "string", "description": "Customer phone number"},
    "location": {"type": "string", "description": "Site address or area"},
    "product": {
      "type": "object",
      "properties": {
        "productId": {"type": "string"},
        "category": {"type": "string"},
        "model": {"type": "string"},
        "serial": {"type": "string"},
        "warranty": {"type": "string"}
      }
    },
    "appointment": {
      "type": "object",
      "properties": {
        "dateTimeISO": {"type": "string", "description": "ISO-8601 datetime, e.g. 2025-09-19T09:00:00+09:00"},
        "display": {"type": "string", "description": "Human readable slot, e.g. 2025-09-19 09:00"}
      },
      "required": ["dateTimeISO"]
    },
    "issue": {"type": "string", "description": "Reported problem"},
    "contactName": {"type": "string", "description": "On-site contact person"},
    "contactPhone": {"type": "string", "description": "On-site contact phone"},
    "machineLabel": {"type": "string", "description": "Machine name shown in the calendar title"}
  },
  "required": ["customerId", "storeName", "appointment", "issue", "contactName", "contactPhone", "machineLabel"]
}`

// Schema returns the JSON schema of the raw confirmation input.
func Schema() json.RawMessage {
	return json.RawMessage(schemaJSON)
}

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func compiled() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiledSchema, compileErr = jsonschema.CompileString("confirmation.schema.json", schemaJSON)
	})
	return compiledSchema, compileErr
}

// typeErrors checks decoded against the schema and returns the type
// violations keyed by dotted field path. Missing-property violations are
// left to the struct rules so every field is reported once.
func typeErrors(decoded any) (map[string]FieldError, error) {
	schema, err := compiled()
	if err != nil {
		return nil, err
	}

	out := map[string]FieldError{}
	err = schema.Validate(decoded)
	if err == nil {
		return out, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	for _, unit := range ve.BasicOutput().Errors {
		if unit.InstanceLocation == "" || strings.HasSuffix(unit.KeywordLocation, "/required") {
			continue
		}
		if !strings.HasSuffix(unit.KeywordLocation, "/type") {
			continue
		}
		field := strings.ReplaceAll(strings.TrimPrefix(unit.InstanceLocation, "/"), "/", ".")
		if _, seen := out[field]; seen {
			continue
		}
		out[field] = FieldError{Field: field, Rule: "type", Message: unit.Error}
	}
	return out, nil
}
