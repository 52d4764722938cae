// Package validation checks extracted payloads against the project manifest schema.
//
// Invalidity is data, not failure: Validate returns human-readable violation
// messages and never aborts on a malformed payload.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// defaultPrinter is used to format schema validation error messages.
var defaultPrinter = message.NewPrinter(language.English)

// Schema is a compiled JSON Schema. It is immutable once compiled and may be shared
// by concurrent runs.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// Compile parses schemaText as JSON and compiles it as a JSON Schema document named name.
func Compile(name string, schemaText []byte) (*Schema, error) {
	if len(bytes.TrimSpace(schemaText)) == 0 {
		return nil, fmt.Errorf("schema %s is empty", name)
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaText))
	if err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		return nil, fmt.Errorf("adding schema %s: %w", name, err)
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}

	return &Schema{name: name, compiled: sch}, nil
}

// Name returns the resource name the schema was compiled under.
func (s *Schema) Name() string {
	return s.name
}

// Validate checks payload against the schema. The returned messages are
// de-duplicated and sorted, so the same payload always yields the same list.
// An empty list means the payload is valid.
func (s *Schema) Validate(payload any) []string {
	err := s.compiled.Validate(payload)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{fmt.Sprintf("schema: %v", err)}
	}

	var errs []string
	collectSchemaErrors(ve, &errs)
	slices.Sort(errs)
	return slices.Compact(errs)
}

// ValidateFile reads a JSON document from path and validates it. A file that is not
// JSON is reported as a single violation; only I/O failures are returned as errors.
func (s *Schema) ValidateFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}, nil
	}

	return s.Validate(doc), nil
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(defaultPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}
