package manifest

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the structural JSON Schema (draft 2020-12) every
// merged manifest must satisfy before semantic validation runs.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "extends": {"type": "array", "items": {"type": "string"}},
    "domains": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "enabled": {"type": "boolean"},
          "priority": {"type": "integer"},
          "thresholds": {"type": "object", "additionalProperties": {"type": "number"}},
          "forbidden_patterns": {"type": "array", "items": {"type": "string"}},
          "required_checks": {"type": "array", "items": {"type": "string"}},
          "debate_required": {"type": "boolean"},
          "human_approval_required": {"type": "boolean"}
        }
      }
    },
    "operations": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "risk_level": {"type": "number", "minimum": 0, "maximum": 1},
          "required_permission": {"type": "string"},
          "pre_conditions": {"type": "array", "items": {"type": "string"}},
          "post_conditions": {"type": "array", "items": {"type": "string"}},
          "requires_approval": {"type": "boolean"},
          "fast_path_available": {"type": "boolean"},
          "fallback_contract": {"type": "string"}
        }
      }
    },
    "default_constraints": {"type": "object"}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://archon.schemas.local/manifest.schema.json"
	if err := c.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
		panic(fmt.Sprintf("manifest schema resource: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("manifest schema compile: %v", err))
	}
	return s
}

// validateMerged runs structural and semantic validation over the fully
// merged document. name is used only for error reporting.
func validateMerged(name string, doc map[string]interface{}) error {
	if err := compiledSchema.Validate(doc); err != nil {
		return &LoadError{Name: name, Detail: "schema validation failed", Err: err}
	}

	version, _ := doc["version"].(string)
	if version == "" {
		return &LoadError{Name: name, Detail: "missing version field"}
	}
	if _, err := semver.NewVersion(version); err != nil {
		return &LoadError{Name: name, Detail: fmt.Sprintf("version %q is not semver", version), Err: err}
	}

	// Every concrete operation must carry a risk level or delegate to a
	// fallback contract. Wildcard entries are meta and exempt.
	ops, _ := doc["operations"].(map[string]interface{})
	for opName, raw := range ops {
		if strings.Contains(opName, "*") {
			continue
		}
		op, ok := raw.(map[string]interface{})
		if !ok {
			return &LoadError{Name: name, Detail: fmt.Sprintf("operation %q is not an object", opName)}
		}
		_, hasRisk := op["risk_level"]
		fallback, _ := op["fallback_contract"].(string)
		if !hasRisk && fallback == "" {
			return &LoadError{Name: name, Detail: fmt.Sprintf("operation %q has neither risk_level nor fallback_contract", opName)}
		}
	}

	return nil
}
