package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// schemaFiles maps artifact names to their embedded schema. Only
// collaborator-produced documents are schema-checked; internally assembled
// artifacts are trusted.
var schemaFiles = map[string]string{
	NameRequirements:     "schemas/requirements.schema.json",
	NameTestCases:        "schemas/test-cases.schema.json",
	NameExecutionResults: "schemas/execution-results.schema.json",
	NameReviewResults:    "schemas/codex-review-results.schema.json",
}

// Validator checks collaborator documents against the embedded schemas.
// Compile once, validate per document.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every embedded schema.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for name, path := range schemaFiles {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema for %s: %w", name, err)
		}

		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := "https://attest.schemas.local/" + name
		if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load schema for %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// Validate checks the raw document against the schema registered for the
// artifact name. Names without a schema pass.
func (v *Validator) Validate(name string, data []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%s is not valid JSON: %w", name, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%s failed schema validation: %w", name, err)
	}
	return nil
}
