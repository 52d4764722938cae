// Package inputs loads the text blobs a run needs before the agent is contacted:
// the idea, the guardrail documents, the manifest schema and the context pack.
package inputs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spboyer/ideaforge/internal/prompt"
	"github.com/spboyer/ideaforge/internal/validation"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TodoHeading starts the section of the TODO document that goes into the prompt.
const TodoHeading = "AI coding TODO list"

// Paths locates every input file. Idea and StructureTemplate are optional.
type Paths struct {
	Idea              string `yaml:"idea,omitempty"`
	Schema            string `yaml:"schema"`
	Tables            string `yaml:"tables"`
	Contracts         string `yaml:"contracts"`
	Validation        string `yaml:"validation"`
	Todo              string `yaml:"todo"`
	ContextTree       string `yaml:"context_tree"`
	CallGraph         string `yaml:"call_graph"`
	DeadCode          string `yaml:"dead_code"`
	Signatures        string `yaml:"signatures"`
	StructureTemplate string `yaml:"structure_template,omitempty"`
}

// DefaultPaths returns the conventional layout relative to the project root.
func DefaultPaths() Paths {
	return Paths{
		Schema:      "guardrails/project-manifest-schema.json",
		Tables:      "guardrails/implementation-tables.md",
		Contracts:   "guardrails/output-contracts.md",
		Validation:  "guardrails/validation.md",
		Todo:        "TODO.md",
		ContextTree: "context/file-tree.txt",
		CallGraph:   "context/call-graph.json",
		DeadCode:    "context/dead-code.json",
		Signatures:  "context/signatures.csv",
	}
}

// MissingError reports a required input that is absent, unreadable or unusable.
type MissingError struct {
	Name string
	Path string
	Err  error
}

func (e *MissingError) Error() string {
	var b strings.Builder
	b.WriteString("required input missing: ")
	b.WriteString(e.Name)
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MissingError) Unwrap() error { return e.Err }

// Bundle is everything loaded for a run. It is immutable and can be shared by
// parallel runs.
type Bundle struct {
	Inputs            prompt.Inputs
	Schema            *validation.Schema
	StructureTemplate string
}

// PromptSet renders the prompts for this bundle.
func (b *Bundle) PromptSet() (*prompt.Set, error) {
	var opts []prompt.Option
	if b.StructureTemplate != "" {
		opts = append(opts, prompt.WithStructureTemplate(b.StructureTemplate))
	}
	return prompt.NewSet(b.Inputs, opts...)
}

// WithIdea returns a copy of b for a different idea.
func (b *Bundle) WithIdea(idea string) (*Bundle, error) {
	idea = strings.TrimSpace(idea)
	if idea == "" {
		return nil, &MissingError{Name: "idea"}
	}
	cp := *b
	cp.Inputs.Idea = idea
	return &cp, nil
}

// Load reads every input. idea wins over paths.Idea when both are set.
func Load(paths Paths, idea string) (*Bundle, error) {
	if strings.TrimSpace(idea) == "" {
		if paths.Idea == "" {
			return nil, &MissingError{Name: "idea"}
		}
		text, err := readFile("idea", paths.Idea)
		if err != nil {
			return nil, err
		}
		idea = text
	}

	b, err := LoadShared(paths)
	if err != nil {
		return nil, err
	}
	return b.WithIdea(idea)
}

// LoadShared reads every input except the idea.
func LoadShared(paths Paths) (*Bundle, error) {
	var (
		b   Bundle
		err error
	)

	schemaText, err := readFile("schema", paths.Schema)
	if err != nil {
		return nil, err
	}
	b.Schema, err = validation.Compile(paths.Schema, []byte(schemaText))
	if err != nil {
		return nil, &MissingError{Name: "schema", Path: paths.Schema, Err: err}
	}
	b.Inputs.Schema = schemaText

	for _, f := range []struct {
		name, path string
		dst        *string
	}{
		{"tables", paths.Tables, &b.Inputs.Tables},
		{"contracts", paths.Contracts, &b.Inputs.Contracts},
		{"validation", paths.Validation, &b.Inputs.Validation},
	} {
		if *f.dst, err = readFile(f.name, f.path); err != nil {
			return nil, err
		}
	}

	todoText, err := readFile("todo", paths.Todo)
	if err != nil {
		return nil, err
	}
	todo, ok := TodoSection([]byte(todoText))
	if !ok {
		return nil, &MissingError{Name: "todo", Path: paths.Todo, Err: fmt.Errorf("no %q section", TodoHeading)}
	}
	b.Inputs.Todo = todo

	b.Inputs.Context, err = loadContext(paths)
	if err != nil {
		return nil, err
	}

	if paths.StructureTemplate != "" {
		if b.StructureTemplate, err = readFile("structure template", paths.StructureTemplate); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func loadContext(paths Paths) (string, error) {
	sections := []struct{ title, name, path string }{
		{"FILE TREE", "context tree", paths.ContextTree},
		{"CALL GRAPH", "call graph", paths.CallGraph},
		{"DEAD CODE", "dead code", paths.DeadCode},
		{"SIGNATURES", "signatures", paths.Signatures},
	}

	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		body, err := readFile(s.name, s.path)
		if err != nil {
			return "", err
		}
		parts = append(parts, s.title+":\n"+strings.TrimSpace(body))
	}
	return strings.Join(parts, "\n\n"), nil
}

func readFile(name, path string) (string, error) {
	if path == "" {
		return "", &MissingError{Name: name, Err: errors.New("no path configured")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &MissingError{Name: name, Path: path, Err: err}
	}
	return string(data), nil
}

// TodoSection returns the level 2 section whose heading starts with
// [TodoHeading], heading line included, up to the next level 2 heading.
func TodoSection(source []byte) (string, bool) {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	start, end := -1, len(source)
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 {
			continue
		}
		if start >= 0 {
			end = lineStart(source, h)
			break
		}
		if strings.HasPrefix(headingText(h, source), TodoHeading) {
			start = lineStart(source, h)
		}
	}
	if start < 0 {
		return "", false
	}
	return strings.TrimSpace(string(source[start:end])), true
}

func headingText(h *ast.Heading, source []byte) string {
	var buf bytes.Buffer
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimSpace(buf.String())
}

// lineStart is the offset of the first line of h, marker included.
func lineStart(source []byte, h *ast.Heading) int {
	if h.Lines().Len() == 0 {
		return 0
	}
	off := h.Lines().At(0).Start
	return bytes.LastIndexByte(source[:off], '\n') + 1
}
