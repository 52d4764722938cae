package workflow

import (
	"errors"
	"fmt"

	"github.com/spboyer/ideaforge/internal/prompt"
)

// Reason says why a run aborted. Each fatal condition has its own reason.
type Reason string

const (
	ReasonRetryBudget  Reason = "validation retry budget exhausted"
	ReasonChannel      Reason = "channel unrecoverable"
	ReasonInputMissing Reason = "required input missing"
	ReasonCancelled    Reason = "run cancelled"
)

// AbortError is returned when a run reaches ABORT.
type AbortError struct {
	Reason Reason
	// Stage is 0 when the run aborted before contacting the agent.
	Stage prompt.Stage
	// Attempts is the number of prompts sent in Stage.
	Attempts int
	Err      error
}

func (e *AbortError) Error() string {
	msg := "aborted: " + string(e.Reason)
	if e.Stage != 0 {
		msg = fmt.Sprintf("aborted in stage %d (%s) after %d attempt(s): %s", int(e.Stage), e.Stage, e.Attempts, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() error { return e.Err }

// InputError reports a required input problem found before the run started.
func InputError(err error) *AbortError {
	return &AbortError{Reason: ReasonInputMissing, Err: err}
}

// AbortReason returns the reason of an [AbortError] anywhere in err's chain.
func AbortReason(err error) (Reason, bool) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.Reason, true
	}
	return "", false
}
