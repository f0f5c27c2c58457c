package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// payloadSchema constrains the assembled ExtractedData before it is
// persisted: decimals are quoted non-negative numbers, confidence is one
// of the five discrete scorer values, and no sub-field may be absent.
const payloadSchema = `{
  "type": "object",
  "properties": {
    "invoice_number": {"type": "string"},
    "ro_number": {"type": "string"},
    "date": {"type": "string"},
    "total_amount": {"type": "string", "pattern": "^\\d+(\\.\\d+)?$"},
    "parts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "part_number": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "price": {"type": "string", "pattern": "^\\d+(\\.\\d+)?$"},
          "verified": {"type": "boolean"},
          "oem": {"type": "boolean"}
        },
        "required": ["part_number", "description", "price", "verified", "oem"]
      }
    },
    "ocr_confidence": {"enum": [0, 0.25, 0.5, 0.75, 1]},
    "drp_compliant": {"type": "boolean"},
    "validation_results": {
      "type": "object",
      "properties": {
        "price_verified": {"type": "boolean"},
        "part_numbers_verified": {"type": "boolean"},
        "drp_rules_checked": {"type": "boolean"},
        "errors": {"type": "array", "items": {"type": "string"}}
      },
      "required": ["price_verified", "part_numbers_verified", "drp_rules_checked", "errors"]
    }
  },
  "required": ["invoice_number", "ro_number", "date", "total_amount", "parts", "ocr_confidence", "drp_compliant", "validation_results"]
}`

var compiledPayloadSchema = jsonschema.MustCompileString("extracted_data.json", payloadSchema)

// ValidatePayload checks the assembled payload against the schema and
// returns human-readable violations (empty for a conforming payload).
func ValidatePayload(data *entity.ExtractedData) []string {
	raw, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal payload: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("decode payload: %v", err)}
	}
	if err := compiledPayloadSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return flattenCauses(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flattenCauses(c)...)
	}
	return out
}
