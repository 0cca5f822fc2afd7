// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// askRequestSchema is the JSON schema for the inbound ask payload. Prompt
// length is bounded again by the normalizer; the schema only rejects the
// structurally invalid.
var askRequestSchema = map[string]interface{}{
	"type":                 "object",
	"required":             []interface{}{"prompt"},
	"additionalProperties": false,
	"properties": map[string]interface{}{
		"prompt": map[string]interface{}{
			"type":      "string",
			"minLength": 1,
		},
		"filters": map[string]interface{}{
			"type": "object",
			"additionalProperties": map[string]interface{}{
				"type": "string",
			},
		},
		"context": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tenant_id":   map[string]interface{}{"type": "string"},
				"role":        map[string]interface{}{"type": "string"},
				"active_page": map[string]interface{}{"type": "string"},
				"active_filters": map[string]interface{}{
					"type": "object",
					"additionalProperties": map[string]interface{}{
						"type": "string",
					},
				},
			},
			"additionalProperties": false,
		},
	},
}

// ValidateAskRequest validates a decoded request body against the ask schema.
func ValidateAskRequest(body map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(askRequestSchema)
	documentLoader := gojsonschema.NewGoLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
	}

	return nil
}
