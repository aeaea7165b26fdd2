package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Format is the encoding of a definition document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// Load reads and decodes the definition at path. It does not validate it.
func Load(path string) (*schema.FlowDefinition, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported definition file %q: want .yaml, .yml or .json", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read definition: %s", err).WithCause(err)
	}
	return Parse(data, format)
}

// Parse decodes a definition document. Unknown fields are rejected.
func Parse(data []byte, format Format) (*schema.FlowDefinition, error) {
	var def schema.FlowDefinition
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&def)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&def)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown definition format %q", format)
	}
	if errors.Is(err, io.EOF) {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition document is empty")
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode %s definition: %s", format, err).WithCause(err)
	}
	return &def, nil
}
