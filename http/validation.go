package http

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

const predictRequestSchema = `{
  "type": "object",
  "required": ["n", "p", "k", "temperature", "humidity", "moisture", "soil_type", "crop_type"],
  "properties": {
    "n":           {"type": "number", "minimum": 0, "maximum": 100, "description": "Nitrogen content"},
    "p":           {"type": "number", "minimum": 0, "maximum": 100, "description": "Phosphorus content"},
    "k":           {"type": "number", "minimum": 0, "maximum": 100, "description": "Potassium content"},
    "temperature": {"type": "number", "minimum": -50, "maximum": 50, "description": "Temperature in Celsius"},
    "humidity":    {"type": "number", "minimum": 0, "maximum": 100, "description": "Humidity percentage"},
    "moisture":    {"type": "number", "minimum": 0, "maximum": 100, "description": "Soil moisture percentage"},
    "soil_type":   {"type": "string", "description": "Soil type (Sandy, Loamy, Clayey, etc.)"},
    "crop_type":   {"type": "string", "description": "Crop type (Rice, Wheat, Maize, etc.)"}
  }
}`

var predictSchema = mustCompileSchema(predictRequestSchema)

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func mustCompileSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// validatePredictRequest checks body against the predict schema. A nil slice
// with a nil error means the body is valid.
func validatePredictRequest(body []byte) ([]FieldError, error) {
	result, err := predictSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}

	fieldErrors := make([]FieldError, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		field := resultErr.Field()
		if resultErr.Type() == "required" {
			if property, ok := resultErr.Details()["property"].(string); ok {
				field = property
			}
		}
		fieldErrors = append(fieldErrors, FieldError{
			Field:   field,
			Message: resultErr.Description(),
			Type:    resultErr.Type(),
		})
	}
	sort.SliceStable(fieldErrors, func(i, j int) bool {
		return fieldErrors[i].Field < fieldErrors[j].Field
	})
	return fieldErrors, nil
}
