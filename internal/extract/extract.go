// Package extract recovers a single JSON payload from an agent's free-text response.
//
// Extraction is a two-attempt strategy: the first fenced code block labeled "json"
// wins, and only when no such block exists is the whole response parsed as JSON.
// A labeled block that fails to parse is reported as a miss of its own kind and
// never falls through to whole-text parsing.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PayloadLabel is the fenced code block info string that marks a structured payload.
const PayloadLabel = "json"

// Source identifies where a payload was (or was not) found.
type Source string

const (
	SourceNone         Source = "none"
	SourceLabeledBlock Source = "labeled_block"
	SourceWholeText    Source = "whole_text"
)

// Miss classifies why no payload was found.
type Miss string

const (
	MissNone           Miss = ""
	MissNoPayload      Miss = "no_payload"
	MissMalformedBlock Miss = "malformed_block"
)

// Result is the outcome of [Extract]. Found is the only success signal; Payload is
// nil whenever Found is false.
type Result struct {
	Payload any
	Found   bool
	Source  Source
	// Raw is the text that was parsed: the labeled block's inner text, or the trimmed
	// response for whole-text payloads.
	Raw string
	// Err holds the parse error for a malformed labeled block.
	Err error
}

// Miss reports why the payload is absent, or MissNone when it was found.
func (r Result) Miss() Miss {
	switch {
	case r.Found:
		return MissNone
	case r.Source == SourceLabeledBlock:
		return MissMalformedBlock
	default:
		return MissNoPayload
	}
}

var markdown = goldmark.New()

// Extract pulls the structured payload out of response.
func Extract(response string) Result {
	source := []byte(response)

	if block, ok := firstLabeledBlock(source); ok {
		payload, err := Parse(block)
		if err != nil {
			return Result{Source: SourceLabeledBlock, Raw: block, Err: err}
		}
		return Result{Payload: payload, Found: true, Source: SourceLabeledBlock, Raw: block}
	}

	trimmed := strings.TrimSpace(response)
	payload, err := Parse(trimmed)
	if err != nil {
		return Result{Source: SourceNone}
	}
	return Result{Payload: payload, Found: true, Source: SourceWholeText, Raw: trimmed}
}

// Parse decodes exactly one JSON value from text. Numbers are kept as [json.Number]
// so a re-serialized manifest does not lose precision.
func Parse(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty JSON document")
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: unexpected data after top-level value")
	}
	return v, nil
}

// firstLabeledBlock returns the inner text of the first fenced code block labeled
// [PayloadLabel], in document order.
func firstLabeledBlock(source []byte) (string, bool) {
	doc := markdown.Parser().Parse(text.NewReader(source))

	var found *ast.FencedCodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if strings.EqualFold(string(fcb.Language(source)), PayloadLabel) {
			found = fcb
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})

	if found == nil {
		return "", false
	}
	return BlockText(found, source), true
}

// BlockText concatenates the raw lines of a code block.
func BlockText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}
