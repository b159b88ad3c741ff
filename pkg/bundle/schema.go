package bundle

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchemaJSON is the structural schema a manifest.json must
// satisfy before the typed decode runs: a shape check with precise
// JSON-pointer locations, ahead of the field-by-field validation the
// verifier performs.
const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "bundle_id", "run_id", "event_count", "run_root", "algorithms", "files"],
  "properties": {
    "schema_version": {"const": 1},
    "bundle_id": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "producer": {"type": "string"},
    "run_id": {"type": "string"},
    "event_count": {"type": "integer", "minimum": 0},
    "run_root": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "algorithms": {"type": "array", "items": {"type": "string"}},
    "files": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["sha256", "bytes"],
        "properties": {
          "sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "bytes": {"type": "integer", "minimum": 0}
        },
        "additionalProperties": false
      }
    },
    "x-assay": {"type": "object"}
  },
  "additionalProperties": false
}`

var manifestSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://assay.sh/schemas/manifest.schema.json"
	if err := c.AddResource(url, strings.NewReader(manifestSchemaJSON)); err != nil {
		panic(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(err)
	}
	return compiled
}()

// validateManifestShape checks raw manifest bytes against the
// structural schema.
func validateManifestShape(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	if err := manifestSchema.Validate(v); err != nil {
		return errKind(KindInvalidManifest, "manifest does not match schema: "+err.Error())
	}
	return nil
}
