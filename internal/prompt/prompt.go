// Package prompt renders the immutable prompt strings sent to the agent at each
// stage and retry of a run.
package prompt

import (
	_ "embed"
	"errors"
	"strings"
)

var (
	//go:embed templates/structure.md
	structureTemplate string

	//go:embed templates/files.md
	filesPrompt string

	//go:embed templates/retry_invalid.md
	retryInvalidTemplate string

	//go:embed templates/retry_missing.md
	retryMissingPrompt string

	//go:embed templates/retry_malformed.md
	retryMalformedTemplate string

	//go:embed templates/retry_timeout.md
	retryTimeoutPrompt string

	//go:embed templates/retry_channel.md
	retryChannelPrompt string
)

// ViolationSeparator joins violation messages in a corrective prompt.
const ViolationSeparator = "; "

// Stage is one of the two sequential protocol phases.
type Stage int

const (
	// StageStructure turns the idea into tables plus a JSON manifest.
	StageStructure Stage = 1
	// StageFiles asks for the generated source files.
	StageFiles Stage = 2
)

func (s Stage) String() string {
	switch s {
	case StageStructure:
		return "structure"
	case StageFiles:
		return "files"
	default:
		return "unknown"
	}
}

// Kind says why a prompt was sent.
type Kind string

const (
	KindInitial        Kind = "initial"
	KindRetryMissing   Kind = "retry_missing"
	KindRetryMalformed Kind = "retry_malformed"
	KindRetryInvalid   Kind = "retry_invalid"
	KindRetryTimeout   Kind = "retry_timeout"
	KindRetryChannel   Kind = "retry_channel"
	KindFollowup       Kind = "followup"
)

// IsRetry reports whether the prompt is a corrective retry.
func (k Kind) IsRetry() bool {
	switch k {
	case KindRetryMissing, KindRetryMalformed, KindRetryInvalid, KindRetryTimeout, KindRetryChannel:
		return true
	}
	return false
}

// Prompt is a rendered prompt. Values are never mutated after construction.
type Prompt struct {
	Stage Stage  `json:"stage"`
	Kind  Kind   `json:"kind"`
	Text  string `json:"text"`
}

// Inputs are the opaque text blobs substituted into the structure prompt.
type Inputs struct {
	Idea       string
	Tables     string
	Schema     string
	Contracts  string
	Validation string
	Context    string
	Todo       string
}

// Set holds every prompt a run can send. The structure prompt is rendered once in
// [NewSet]; a Set is read-only afterwards and can be shared between runs that use
// the same inputs.
type Set struct {
	structure string
}

// Option configures a [Set].
type Option func(*setOptions)

type setOptions struct {
	structureTemplate string
}

// WithStructureTemplate replaces the built-in stage 1 template. The template sees the
// fields of [Inputs].
func WithStructureTemplate(tmpl string) Option {
	return func(o *setOptions) {
		if strings.TrimSpace(tmpl) != "" {
			o.structureTemplate = tmpl
		}
	}
}

// NewSet renders the structure prompt from in.
func NewSet(in Inputs, opts ...Option) (*Set, error) {
	if strings.TrimSpace(in.Idea) == "" {
		return nil, errors.New("idea text is required")
	}

	o := setOptions{structureTemplate: structureTemplate}
	for _, opt := range opts {
		opt(&o)
	}

	text, err := render("structure", o.structureTemplate, in)
	if err != nil {
		return nil, err
	}

	return &Set{structure: text}, nil
}

// Structure is the initial stage 1 prompt.
func (s *Set) Structure() Prompt {
	return Prompt{Stage: StageStructure, Kind: KindInitial, Text: s.structure}
}

// RetryMissing asks the agent to regenerate after no payload was detected.
func (s *Set) RetryMissing() Prompt {
	return Prompt{Stage: StageStructure, Kind: KindRetryMissing, Text: strings.TrimSpace(retryMissingPrompt)}
}

// RetryMalformed asks the agent to regenerate after its labeled block failed to parse.
func (s *Set) RetryMalformed(parseErr error) Prompt {
	detail := "unparseable"
	if parseErr != nil {
		detail = parseErr.Error()
	}
	return Prompt{Stage: StageStructure, Kind: KindRetryMalformed, Text: mustRender("retry_malformed", retryMalformedTemplate, map[string]string{"Error": detail})}
}

// RetryInvalid embeds every violation verbatim and asks for a fixed manifest.
func (s *Set) RetryInvalid(violations []string) Prompt {
	joined := strings.Join(violations, ViolationSeparator)
	return Prompt{Stage: StageStructure, Kind: KindRetryInvalid, Text: mustRender("retry_invalid", retryInvalidTemplate, map[string]string{"Violations": joined})}
}

// RetryTimeout asks the agent to answer again after the previous request got no response.
func (s *Set) RetryTimeout() Prompt {
	return Prompt{Stage: StageStructure, Kind: KindRetryTimeout, Text: strings.TrimSpace(retryTimeoutPrompt)}
}

// RetryChannel asks the agent to answer again after the previous request failed
// in transport or ended in a session error.
func (s *Set) RetryChannel() Prompt {
	return Prompt{Stage: StageStructure, Kind: KindRetryChannel, Text: strings.TrimSpace(retryChannelPrompt)}
}

// Files is the fixed stage 2 follow-up. It has no placeholders.
func (s *Set) Files() Prompt {
	return Prompt{Stage: StageFiles, Kind: KindFollowup, Text: filesPrompt}
}

// mustRender is only used with embedded templates and map data, which cannot fail
// on a missing key.
func mustRender(name, tmpl string, data map[string]string) string {
	out, err := render(name, tmpl, data)
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(out)
}
