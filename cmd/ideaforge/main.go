package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spboyer/ideaforge/internal/workflow"
)

// Exit codes for different failure modes
const (
	ExitSuccess = 0 // Both stages completed
	ExitFailed  = 1 // The run aborted or its artifacts could not be written
	ExitError   = 2 // Configuration or input error
)

// FailureError indicates that the command got past configuration and input
// loading but did not succeed: a run failed, a batch had failing ideas, or a
// manifest had violations.
type FailureError struct {
	Message string
	Err     error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *FailureError) Unwrap() error { return e.Err }

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if reason, ok := workflow.AbortReason(err); ok {
		if reason == workflow.ReasonInputMissing {
			return ExitError
		}
		return ExitFailed
	}

	var failure *FailureError
	if errors.As(err, &failure) {
		return ExitFailed
	}

	// All other errors are configuration errors
	return ExitError
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
