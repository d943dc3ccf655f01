package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Disclaimer must close every patient summary.
const Disclaimer = "This summary is for information only and is not medical advice. Please consult your healthcare provider."

func nullable(t ...string) map[string]any {
	return map[string]any{"type": append(t, "null")}
}

// AnalysisSchema is the JSON schema sent to providers and used to validate structured responses.
func AnalysisSchema() map[string]any {
	confidence := map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1}
	return map[string]any{
		"type": "object",
		"required": []string{
			"patient", "medications", "diagnoses", "labs", "impression", "recommendations", "confidence_overall",
		},
		"properties": map[string]any{
			"patient": map[string]any{
				"type": []string{"object", "null"},
				"properties": map[string]any{
					"name": nullable("string"),
					"dob":  nullable("string"),
					"sex":  nullable("string"),
					"id":   nullable("string"),
				},
			},
			"medications": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name"},
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"dose":       nullable("string"),
						"frequency":  nullable("string"),
						"route":      nullable("string"),
						"duration":   nullable("string"),
						"raw_text":   nullable("string"),
						"confidence": confidence,
					},
				},
			},
			"diagnoses": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"text"},
					"properties": map[string]any{
						"text":       map[string]any{"type": "string"},
						"icd10":      nullable("string"),
						"confidence": confidence,
					},
				},
			},
			"labs": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name"},
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"value":      nullable("number", "string"),
						"units":      nullable("string"),
						"ref_range":  nullable("string"),
						"flag":       nullable("string"),
						"confidence": confidence,
					},
				},
			},
			"vitals":     map[string]any{"type": []string{"object", "null"}},
			"impression": nullable("string"),
			"recommendations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": []string{"object", "string"},
					"properties": map[string]any{
						"text":    map[string]any{"type": "string"},
						"urgency": nullable("string"),
					},
				},
			},
			"confidence_overall": confidence,
			"source_pages":       map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"timestamps":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"notes":              map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"patient_summary":    nullable("string"),
		},
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func analysisSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(AnalysisSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("analysis.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("analysis.json")
	})
	return compiledSchema, schemaErr
}

// ValidateAnalysis checks data against AnalysisSchema and returns the decoded object.
func ValidateAnalysis(data []byte) (map[string]any, error) {
	schema, err := analysisSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("json is not an object")
	}
	return obj, nil
}
