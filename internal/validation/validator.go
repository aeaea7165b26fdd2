package validation

import "github.com/rendis/nodeflow/pkg/schema"

// TypeLookup reports whether a node type can be built. A nil lookup skips
// the node type check.
type TypeLookup interface {
	Has(nodeType string) bool
}

// Validator runs the definition pipeline: structure against the embedded
// JSON Schema first, then the semantic checks JSON Schema cannot express.
// Structural errors short-circuit the semantic stage.
type Validator struct {
	jsonSchema *JSONSchemaValidator
	types      TypeLookup
}

// New creates a Validator.
func New(types TypeLookup) (*Validator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{jsonSchema: jsv, types: types}, nil
}

// Validate checks def and returns every issue found.
func (v *Validator) Validate(def *schema.FlowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("", schema.ErrCodeValidation, "flow definition is nil")
		return result
	}

	result.Merge(v.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(def, v.types))
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return result
}

// ValidateDefinition returns the result of Validate as an error, nil when
// the definition only carries warnings.
func (v *Validator) ValidateDefinition(def *schema.FlowDefinition) error {
	return v.Validate(def).ToError()
}

// ValidateRaw validates a definition document that has not been decoded
// into a FlowDefinition yet, such as the argument of the MCP validate tool.
// Unknown fields are reported instead of silently dropped.
func (v *Validator) ValidateRaw(doc any) (*schema.FlowDefinition, *schema.ValidationResult) {
	result := v.jsonSchema.ValidateDocument(doc)
	if !result.Valid() {
		return nil, result
	}
	def, err := decodeDefinition(doc)
	if err != nil {
		result.AddError("", schema.ErrCodeValidation, err.Error())
		return nil, result
	}
	result.Merge(validateSemantic(def, v.types))
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return def, result
}
