package workflow

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/spboyer/ideaforge/internal/prompt"
	"github.com/spboyer/ideaforge/internal/transcript"
	"github.com/spboyer/ideaforge/internal/validation"
	"github.com/stretchr/testify/require"
)

const schemaPath = "../validation/testdata/project-manifest-schema.json"

func newTestMachine(t *testing.T, limits Limits) (*Machine, *prompt.Set) {
	t.Helper()

	schemaText, err := os.ReadFile(schemaPath)
	require.NoError(t, err)
	schema, err := validation.Compile("project-manifest-schema.json", schemaText)
	require.NoError(t, err)

	set, err := prompt.NewSet(prompt.Inputs{
		Idea:   "A habit tracker for teams",
		Schema: string(schemaText),
	})
	require.NoError(t, err)

	return NewMachine(set, schema, limits), set
}

func manifestJSON(name string) string {
	return fmt.Sprintf(`{"project": {"name": %q, "language": "go"}, "files": [{"path": "main.go", "description": "entry point"}]}`, name)
}

func validReply(name string) string {
	return "## Tables\n\n| a | b |\n\n```json\n" + manifestJSON(name) + "\n```\n"
}

// invalidReply has a manifest without files and with an unknown language.
func invalidReply() string {
	return "```json\n{\"project\": {\"name\": \"x\", \"language\": \"cobol\"}}\n```"
}

type memRecorder struct {
	mu       sync.Mutex
	ops      []string
	turns    []transcript.Turn
	manifest any
	capture  string
	failOn   string
}

func (r *memRecorder) RecordTurn(_ context.Context, turn transcript.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "turn" {
		return fmt.Errorf("disk full")
	}
	r.ops = append(r.ops, fmt.Sprintf("turn:%d", turn.Seq))
	r.turns = append(r.turns, turn)
	return nil
}

func (r *memRecorder) RecordManifest(_ context.Context, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "manifest" {
		return fmt.Errorf("disk full")
	}
	r.ops = append(r.ops, "manifest")
	r.manifest = payload
	return nil
}

func (r *memRecorder) RecordCapture(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "capture")
	r.capture = text
	return nil
}
