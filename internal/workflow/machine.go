package workflow

import (
	"errors"
	"slices"
	"strings"

	"github.com/spboyer/ideaforge/internal/channel"
	"github.com/spboyer/ideaforge/internal/extract"
	"github.com/spboyer/ideaforge/internal/prompt"
)

// Validator checks a payload and returns its violations, empty when valid.
type Validator interface {
	Validate(payload any) []string
}

// Reply is what the channel produced for the pending prompt: text, or an error
// from Send or Await.
type Reply struct {
	Text string
	Err  error
	// Seq is the transcript sequence number of the turn that carried the reply.
	Seq int
}

// Verdict is the machine's judgement of one reply.
type Verdict string

const (
	VerdictAccepted  Verdict = "accepted"
	VerdictMissing   Verdict = "missing_payload"
	VerdictMalformed Verdict = "malformed_payload"
	VerdictInvalid   Verdict = "invalid_payload"
	VerdictTimedOut  Verdict = "timed_out"
	VerdictChannel   Verdict = "channel_error"
	VerdictCaptured  Verdict = "captured"
	VerdictCancelled Verdict = "cancelled"
)

// Action tells the caller what to do after a transition.
type Action struct {
	// Next is the prompt to send, nil when the run is over.
	Next    *prompt.Prompt
	Verdict Verdict
	// Manifest is set on the transition that accepts the Stage 1 payload.
	Manifest any
	// Capture is set on the transition that captures the Stage 2 response.
	Capture    string
	Violations []string
	Abort      *AbortError
	// Trace lists the phases passed through, ending with the new phase.
	Trace []Phase
}

// Machine is the pure protocol state machine. It is safe for concurrent use by
// independent runs.
type Machine struct {
	prompts   *prompt.Set
	validator Validator
	limits    Limits
}

// NewMachine creates a machine. Zero limits fall back to defaults, except
// MaxAttempts where 0 means unbounded.
func NewMachine(prompts *prompt.Set, validator Validator, limits Limits) *Machine {
	return &Machine{prompts: prompts, validator: validator, limits: limits.withDefaults()}
}

// Limits returns the effective limits.
func (m *Machine) Limits() Limits {
	return m.limits
}

// Start returns the initial state and the first prompt to send.
func (m *Machine) Start() (State, prompt.Prompt) {
	p := m.prompts.Structure()
	return State{Phase: PhaseStage1Await, Pending: p}, p
}

// Step consumes the reply to s.Pending. Terminal states are returned unchanged.
func (m *Machine) Step(s State, r Reply) (State, Action) {
	switch s.Phase {
	case PhaseStage1Await:
		return m.stepStructure(s, r)
	case PhaseStage2Await:
		return m.stepFiles(s, r)
	default:
		return s, Action{Trace: []Phase{s.Phase}}
	}
}

func (m *Machine) stepStructure(s State, r Reply) (State, Action) {
	s.Retry.Turns = append(slices.Clip(s.Retry.Turns), r.Seq)
	trace := []Phase{PhaseStage1Await}

	if r.Err != nil {
		retry := m.prompts.RetryChannel()
		if channel.Classify(r.Err) == channel.FailureTimeout {
			retry = m.prompts.RetryTimeout()
		}
		return m.channelFailure(s, r.Err, trace, retry, PhaseStage1Retry, PhaseStage1Send)
	}
	s.Retry.ChannelFailures = 0

	trace = append(trace, PhaseStage1Extract)
	res := extract.Extract(r.Text)
	if !res.Found {
		s.Retry.LastMiss = res.Miss()
		s.Retry.LastViolations = nil
		if res.Miss() == extract.MissMalformedBlock {
			return m.reject(s, trace, VerdictMalformed, nil, m.prompts.RetryMalformed(res.Err), res.Err)
		}
		return m.reject(s, trace, VerdictMissing, nil, m.prompts.RetryMissing(), errors.New("no structured payload detected"))
	}

	trace = append(trace, PhaseStage1Validate)
	s.Retry.LastMiss = extract.MissNone
	violations := m.validator.Validate(res.Payload)
	if len(violations) > 0 {
		s.Retry.LastViolations = violations
		return m.reject(s, trace, VerdictInvalid, violations, m.prompts.RetryInvalid(violations),
			errors.New(strings.Join(violations, prompt.ViolationSeparator)))
	}

	next := m.prompts.Files()
	s = State{
		Phase:    PhaseStage2Await,
		Pending:  next,
		Manifest: res.Payload,
	}
	return s, Action{
		Next:     &next,
		Verdict:  VerdictAccepted,
		Manifest: res.Payload,
		Trace:    append(trace, PhaseStage2Send, PhaseStage2Await),
	}
}

// reject handles a reply that arrived but cannot be accepted.
func (m *Machine) reject(s State, trace []Phase, v Verdict, violations []string, retry prompt.Prompt, cause error) (State, Action) {
	s.Retry.Rejections++
	if m.limits.MaxAttempts > 0 && s.Retry.Rejections > m.limits.MaxAttempts {
		return m.abort(s, trace, v, violations, ReasonRetryBudget, cause)
	}

	s.Retry.Attempt++
	s.Pending = retry
	return s, Action{
		Next:       &retry,
		Verdict:    v,
		Violations: violations,
		Trace:      append(trace, PhaseStage1Retry, PhaseStage1Send, PhaseStage1Await),
	}
}

// channelFailure handles a turn without a response in either stage. retry is
// sent again unless the failure budget is spent.
func (m *Machine) channelFailure(s State, err error, trace []Phase, retry prompt.Prompt, via ...Phase) (State, Action) {
	v := VerdictChannel
	switch channel.Classify(err) {
	case channel.FailureCancelled:
		return m.abort(s, trace, VerdictCancelled, nil, ReasonCancelled, err)
	case channel.FailureTimeout:
		v = VerdictTimedOut
	}

	s.Retry.ChannelFailures++
	if s.Retry.ChannelFailures >= m.limits.MaxChannelFailures {
		return m.abort(s, trace, v, nil, ReasonChannel, err)
	}

	s.Retry.Attempt++
	s.Pending = retry
	trace = append(trace, via...)
	return s, Action{
		Next:    &retry,
		Verdict: v,
		Trace:   append(trace, s.Phase),
	}
}

func (m *Machine) abort(s State, trace []Phase, v Verdict, violations []string, reason Reason, err error) (State, Action) {
	stage := s.Stage()
	s.Phase = PhaseAbort
	return s, Action{
		Verdict:    v,
		Violations: violations,
		Abort: &AbortError{
			Reason:   reason,
			Stage:    stage,
			Attempts: s.Retry.Attempt + 1,
			Err:      err,
		},
		Trace: append(trace, PhaseAbort),
	}
}

func (m *Machine) stepFiles(s State, r Reply) (State, Action) {
	s.Retry.Turns = append(slices.Clip(s.Retry.Turns), r.Seq)
	trace := []Phase{PhaseStage2Await}

	if r.Err != nil {
		// The follow-up has no corrective variant, so it is resent as is.
		return m.channelFailure(s, r.Err, trace, m.prompts.Files(), PhaseStage2Send)
	}

	s.Phase = PhaseDone
	s.Capture = r.Text
	return s, Action{
		Verdict: VerdictCaptured,
		Capture: r.Text,
		Trace:   append(trace, PhaseStage2Capture, PhaseDone),
	}
}
