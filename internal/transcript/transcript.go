// Package transcript holds the durable, append-only record of a run: one Turn
// per prompt/response exchange, in the order they happened.
package transcript

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spboyer/ideaforge/internal/prompt"
)

// Outcome is what the channel produced for a turn. It is known before any
// extraction or validation runs.
type Outcome string

const (
	OutcomeResponded    Outcome = "responded"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeChannelError Outcome = "channel_error"
	OutcomeCancelled    Outcome = "cancelled"
)

// Turn is one send/receive exchange. Turns are never mutated after creation.
type Turn struct {
	Seq       int          `json:"seq"`
	Stage     prompt.Stage `json:"stage"`
	Attempt   int          `json:"attempt"`
	Kind      prompt.Kind  `json:"kind"`
	Prompt    string       `json:"prompt"`
	Response  string       `json:"response,omitempty"`
	Outcome   Outcome      `json:"outcome"`
	Timestamp time.Time    `json:"timestamp"`
	Err       string       `json:"error,omitempty"`
}

// HasResponse reports whether the agent answered this turn.
func (t Turn) HasResponse() bool {
	return t.Outcome == OutcomeResponded
}

// ResponseName is the artifact name of the turn's raw response.
func (t Turn) ResponseName() string {
	return ResponseName(t.Stage, t.Attempt)
}

// Transcript is the ordered list of turns of one run. It is owned by a single
// run and is not safe for concurrent use.
type Transcript struct {
	turns []Turn
}

// Append adds a turn, assigning its sequence number, and returns the stored copy.
func (tr *Transcript) Append(t Turn) Turn {
	t.Seq = len(tr.turns) + 1
	tr.turns = append(tr.turns, t)
	return t
}

// Turns returns a copy of every turn.
func (tr *Transcript) Turns() []Turn {
	return append([]Turn(nil), tr.turns...)
}

// ForStage returns the turns of a single stage.
func (tr *Transcript) ForStage(stage prompt.Stage) []Turn {
	var out []Turn
	for _, t := range tr.turns {
		if t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of turns.
func (tr *Transcript) Len() int {
	return len(tr.turns)
}

// ResponseName returns the stable artifact name for a stage response. Attempt 0
// is the initial prompt, attempt n the n-th retry.
func ResponseName(stage prompt.Stage, attempt int) string {
	var base string
	switch stage {
	case prompt.StageStructure:
		base = "01_structure"
	case prompt.StageFiles:
		base = "02_source_files"
	default:
		base = fmt.Sprintf("%02d_%s", int(stage), stage)
	}
	if attempt > 0 {
		return fmt.Sprintf("%s_retry_%d.md", base, attempt)
	}
	return base + ".md"
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeChars.ReplaceAllString(s, "")
	if s == "" {
		s = "unnamed"
	}
	return s
}

// RunDirName returns the output directory name for a named run started at ts.
func RunDirName(name string, ts time.Time) string {
	return fmt.Sprintf("%s-%s", sanitizeName(name), ts.UTC().Format("20060102-150405"))
}
