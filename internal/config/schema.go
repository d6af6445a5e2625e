// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package config

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id advertised in generated schema files.
const SchemaID = "https://garrulus.dev/schemas/config.schema.json"

// schemaCache holds the compiled schema so repeated validations don't
// recompile it.
var schemaCache *jschema.Schema

// GenerateSchema produces the JSON Schema for the configuration file,
// reflected from the Config struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Garrulus Configuration"
	schema.Description = "Schema for the garrulus YAML configuration file"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates raw YAML configuration data against the
// generated schema. It catches structural mistakes (wrong types, unknown
// enum values) before semantic validation runs.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("configuration data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if err := sch.Validate(jsonValue(yamlData)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compiledSchema() (*jschema.Schema, error) {
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, fmt.Errorf("parse schema JSON: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("config.schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, err
	}

	schemaCache = sch
	return sch, nil
}

// jsonValue converts YAML-decoded data into the JSON-compatible types the
// schema validator expects. yaml.v3 already decodes mappings as
// map[string]any, so only nested containers and oddball scalars need
// attention.
func jsonValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonValue(item)
		}
		return out
	case string, int, int64, float64, bool, nil:
		return val
	default:
		if b, err := json.Marshal(val); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return val
	}
}

// ResetSchemaCache clears the compiled schema. Used by tests.
func ResetSchemaCache() {
	schemaCache = nil
}
