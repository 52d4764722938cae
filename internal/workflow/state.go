// Package workflow drives the two-stage negotiation with the agent.
//
// [Machine] is a pure transition function over [State]: it never touches the
// channel, the clock or the disk, so every retry path can be exercised with
// scripted replies. [Orchestrator] owns the side effects around it.
package workflow

import (
	"time"

	"github.com/spboyer/ideaforge/internal/extract"
	"github.com/spboyer/ideaforge/internal/prompt"
)

// Phase is a state of the protocol.
type Phase string

const (
	PhaseStage1Send     Phase = "STAGE1_SEND"
	PhaseStage1Await    Phase = "STAGE1_AWAIT"
	PhaseStage1Extract  Phase = "STAGE1_EXTRACT"
	PhaseStage1Validate Phase = "STAGE1_VALIDATE"
	PhaseStage1Retry    Phase = "STAGE1_RETRY"
	PhaseStage2Send     Phase = "STAGE2_SEND"
	PhaseStage2Await    Phase = "STAGE2_AWAIT"
	PhaseStage2Capture  Phase = "STAGE2_CAPTURE"
	PhaseDone           Phase = "DONE"
	PhaseAbort          Phase = "ABORT"
)

// Terminal reports whether no further transitions happen from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAbort
}

// Stage returns the protocol stage p belongs to, or 0 for terminal phases.
func (p Phase) Stage() prompt.Stage {
	switch p {
	case PhaseStage1Send, PhaseStage1Await, PhaseStage1Extract, PhaseStage1Validate, PhaseStage1Retry:
		return prompt.StageStructure
	case PhaseStage2Send, PhaseStage2Await, PhaseStage2Capture:
		return prompt.StageFiles
	}
	return 0
}

const (
	DefaultMaxAttempts        = 5
	DefaultMaxChannelFailures = 3
	DefaultTimeout            = 120 * time.Second
)

// Limits bound a run.
type Limits struct {
	// MaxAttempts is how many corrective retries Stage 1 may send for missing,
	// malformed or invalid payloads. 0 retries until the agent complies.
	MaxAttempts int
	// MaxChannelFailures is how many consecutive timeouts or transport errors a
	// stage tolerates. The turn that reaches it aborts the run.
	MaxChannelFailures int
	// Timeout bounds each wait for a response.
	Timeout time.Duration
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxAttempts:        DefaultMaxAttempts,
		MaxChannelFailures: DefaultMaxChannelFailures,
		Timeout:            DefaultTimeout,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxAttempts < 0 {
		l.MaxAttempts = 0
	}
	if l.MaxChannelFailures <= 0 {
		l.MaxChannelFailures = DefaultMaxChannelFailures
	}
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	return l
}

// RetryState belongs to one stage and is reset when the next stage starts.
type RetryState struct {
	// Attempt is the number of prompts sent in the stage after the first one.
	Attempt int
	// Rejections counts replies whose payload was missing, malformed or invalid.
	Rejections int
	// ChannelFailures counts consecutive turns without a response.
	ChannelFailures int
	LastViolations  []string
	LastMiss        extract.Miss
	// Turns holds the transcript sequence numbers of the stage's turns, first
	// prompt and retries alike. Transcript.ForStage returns the turns themselves.
	Turns []int
}

// State is a snapshot of a run between turns.
type State struct {
	Phase Phase
	// Pending is the prompt whose reply is awaited.
	Pending  prompt.Prompt
	Retry    RetryState
	Manifest any
	Capture  string
}

// Stage is the stage the state belongs to.
func (s State) Stage() prompt.Stage {
	return s.Phase.Stage()
}
