package workflow

import "github.com/spboyer/ideaforge/internal/prompt"

// ProgressListener receives progress updates
type ProgressListener func(event ProgressEvent)

// EventType represents the type of progress event
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventPromptSent    EventType = "prompt_sent"
	EventAwaitStart    EventType = "await_start"
	EventResponse      EventType = "response"
	EventRetry         EventType = "retry"
	EventStageComplete EventType = "stage_complete"
	EventAbort         EventType = "abort"
	EventRunComplete   EventType = "run_complete"
)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	EventType EventType
	RunID     string
	Stage     prompt.Stage
	Attempt   int
	Kind      prompt.Kind
	Verdict   Verdict
	Phase     Phase
	// Violations are set on retry events caused by an invalid payload.
	Violations []string
	DurationMs int64
	Details    map[string]any
}
