package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rendis/nodeflow/pkg/schema"
)

const flowSchemaURL = "https://nodeflow.dev/schemas/flow.json"

// flowSchemaJSON is the JSON Schema (draft 2020-12) for flow definitions.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nodeflow.dev/schemas/flow.json",
  "type": "object",
  "required": ["name", "entry", "nodes"],
  "properties": {
    "name": { "type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9._-]*$" },
    "description": { "type": "string" },
    "mode": { "type": "string", "enum": ["sync", "async"] },
    "entry": { "type": "string", "minLength": 1 },
    "labels": {
      "type": "array",
      "uniqueItems": true,
      "items": { "type": "string", "minLength": 1 }
    },
    "params": { "type": "object" },
    "input": { "type": "object" },
    "schedule": { "type": "string", "minLength": 1 },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "config": { "type": "object" },
        "retry": { "$ref": "#/$defs/retry" },
        "batch": { "$ref": "#/$defs/batch" },
        "timeout": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max_attempts"],
      "properties": {
        "max_attempts": { "type": "integer", "minimum": 1 },
        "delay": { "$ref": "#/$defs/duration" },
        "backoff": { "type": "string", "enum": ["none", "constant", "linear", "exponential"] },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "batch": {
      "type": "object",
      "properties": {
        "on_item_error": { "type": "string", "enum": ["abort", "skip"] },
        "parallelism": { "type": "integer", "minimum": 1 }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "from": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "to": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of flow definition documents.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	flowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded flow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource(flowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}
	s, err := c.Compile(flowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}
	return &JSONSchemaValidator{flowSchema: s}, nil
}

// ValidateDefinition checks a decoded definition against the schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.FlowDefinition) *schema.ValidationResult {
	return v.ValidateDocument(def)
}

// ValidateDocument checks any JSON-encodable document against the schema.
func (v *JSONSchemaValidator) ValidateDocument(doc any) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	value, err := toJSONValue(doc)
	if err != nil {
		result.AddError("", schema.ErrCodeValidation, "definition is not JSON-encodable: "+err.Error())
		return result
	}
	if err := v.flowSchema.Validate(value); err != nil {
		addViolations(result, err)
	}
	return result
}

// toJSONValue round-trips v through JSON so numbers become json.Number, as
// the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// addViolations flattens a ValidationError tree into one issue per leaf.
// Paths use the document's JSON pointer, e.g. "/nodes/1/retry".
func addViolations(result *schema.ValidationResult, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("", schema.ErrCodeValidation, err.Error())
		return
	}
	if len(verr.Causes) == 0 {
		path := "/" + strings.Join(verr.InstanceLocation, "/")
		result.AddError(path, schema.ErrCodeValidation, leafMessage(verr))
		return
	}
	for _, c := range verr.Causes {
		addViolations(result, c)
	}
}

var printer = message.NewPrinter(language.English)

func leafMessage(verr *jsonschema.ValidationError) string {
	if verr.ErrorKind != nil {
		return verr.ErrorKind.LocalizedString(printer)
	}
	return verr.Error()
}

func decodeDefinition(doc any) (*schema.FlowDefinition, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var def schema.FlowDefinition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("decode flow definition: %w", err)
	}
	return &def, nil
}
