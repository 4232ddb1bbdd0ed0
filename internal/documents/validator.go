package documents

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrValidation can be used with errors.Is to detect schema failures.
var ErrValidation = errors.New("validation failed")

// Validator holds the compiled input and output schema of every operation.
type Validator struct {
	inputSchemas  map[string]*jsonschema.Schema
	outputSchemas map[string]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas. Each file wraps an input_schema
// and an output_schema; the operation name is the file name without ".v1.json".
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
		name := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".json"), ".v1")
		p := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", p, err)
		}
		var file struct {
			Properties struct {
				InputSchema  json.RawMessage `json:"input_schema"`
				OutputSchema json.RawMessage `json:"output_schema"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		if len(file.Properties.InputSchema) == 0 || len(file.Properties.OutputSchema) == 0 {
			return nil, fmt.Errorf("%q: missing input_schema or output_schema", p)
		}
		v.inputSchemas[name], err = jsonschema.CompileString("https://paperlens.dev/schemas/"+name+".input", string(file.Properties.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile input schema %q: %w", name, err)
		}
		v.outputSchemas[name], err = jsonschema.CompileString("https://paperlens.dev/schemas/"+name+".output", string(file.Properties.OutputSchema))
		if err != nil {
			return nil, fmt.Errorf("compile output schema %q: %w", name, err)
		}
	}
	return v, nil
}

// ValidateInput rejects a request body that does not match the operation's input schema.
func (v *Validator) ValidateInput(operation string, input []byte) error {
	return validate(v.inputSchemas, operation, input)
}

// ValidateOutput checks a response body. Callers log failures rather than
// failing the request.
func (v *Validator) ValidateOutput(operation string, output []byte) error {
	return validate(v.outputSchemas, operation, output)
}

func validate(schemas map[string]*jsonschema.Schema, operation string, raw []byte) error {
	schema, ok := schemas[operation]
	if !ok {
		return fmt.Errorf("unknown operation %q", operation)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
