package execution

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type Validator struct {
	inputSchemas  map[string]*jsonschema.Schema
	outputSchemas map[string]*jsonschema.Schema
}

// NewValidator compiles the input_schema and output_schema of every embedded
// schemas/<tool>.json file.
func NewValidator() (*Validator, error) {
	return newValidator(schemaFS, "schemas")
}

func newValidator(fsys fs.FS, dir string) (*Validator, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", dir, err)
	}
	v := &Validator{
		inputSchemas:  make(map[string]*jsonschema.Schema),
		outputSchemas: make(map[string]*jsonschema.Schema),
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		tool := strings.TrimSuffix(e.Name(), ".json")
		p := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", p, err)
		}
		var file struct {
			InputSchema  json.RawMessage `json:"input_schema"`
			OutputSchema json.RawMessage `json:"output_schema"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		if len(file.InputSchema) == 0 || len(file.OutputSchema) == 0 {
			return nil, fmt.Errorf("%q: missing input_schema or output_schema", p)
		}
		if v.inputSchemas[tool], err = jsonschema.CompileString("https://autonest.dev/schemas/"+tool+".input", string(file.InputSchema)); err != nil {
			return nil, fmt.Errorf("compile input schema %q: %w", tool, err)
		}
		if v.outputSchemas[tool], err = jsonschema.CompileString("https://autonest.dev/schemas/"+tool+".output", string(file.OutputSchema)); err != nil {
			return nil, fmt.Errorf("compile output schema %q: %w", tool, err)
		}
	}
	return v, nil
}

// ValidateInput returns an error wrapping ErrValidation if input does not match the tool's input_schema.
func (v *Validator) ValidateInput(tool string, input any) error {
	return validate(v.inputSchemas, tool, input)
}

// ValidateOutput returns an error wrapping ErrValidation if output does not match the tool's output_schema.
func (v *Validator) ValidateOutput(tool string, output json.RawMessage) error {
	return validate(v.outputSchemas, tool, output)
}

func validate(schemas map[string]*jsonschema.Schema, tool string, doc any) error {
	schema, ok := schemas[tool]
	if !ok {
		return fmt.Errorf("unknown tool %q", tool)
	}
	raw, ok := doc.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		raw = b
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
