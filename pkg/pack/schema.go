package pack

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// packSchemaJSON is the structural schema a parsed pack document must
// satisfy before the typed decode runs. The typed decode (with unknown
// fields rejected) remains the authority on field semantics; this layer
// catches shape errors early with a precise JSON-pointer location.
const packSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "rules"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "kind": {"enum": ["custom", "compliance", "community"]},
    "description": {"type": "string"},
    "author": {"type": "string"},
    "license": {"type": "string"},
    "disclaimer": {"type": "string"},
    "requires": {
      "type": "object",
      "properties": {"assay_min_version": {"type": "string"}},
      "additionalProperties": false
    },
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "severity", "check"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "severity": {"enum": ["error", "warn", "info"]},
          "description": {"type": "string"},
          "help_uri": {"type": "string"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "check": {
            "type": "object",
            "required": ["kind"],
            "properties": {"kind": {"type": "string"}}
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var packSchema = mustCompileSchema("https://assay.sh/schemas/pack.schema.json", packSchemaJSON)

func mustCompileSchema(url, source string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(source)); err != nil {
		panic(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(err)
	}
	return compiled
}

// validatePackShape runs the structural schema over the generic value
// produced from the YAML document.
func validatePackShape(value any) error {
	if err := packSchema.Validate(value); err != nil {
		return &Error{Kind: KindUnknownField, Msg: err.Error()}
	}
	return nil
}
