package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spboyer/ideaforge/internal/channel"
	"github.com/spboyer/ideaforge/internal/prompt"
	"github.com/spboyer/ideaforge/internal/transcript"
)

const defaultCloseTimeout = 10 * time.Second

// Recorder persists what a run exchanged.
type Recorder interface {
	RecordTurn(ctx context.Context, turn transcript.Turn) error
	RecordManifest(ctx context.Context, payload any) error
	RecordCapture(ctx context.Context, text string) error
}

// Result is the outcome of a run that reached DONE.
type Result struct {
	RunID    string
	Manifest any
	Capture  string
	// Transcript holds every turn of the run, failed ones included.
	Transcript *transcript.Transcript
	// Retries is the number of Stage 1 prompts sent after the first one.
	Retries  int
	Duration time.Duration
}

// Orchestrator runs one negotiation over a channel it owns exclusively.
type Orchestrator struct {
	machine      *Machine
	channel      channel.Channel
	recorder     Recorder
	runID        string
	closeTimeout time.Duration
	now          func() time.Time

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunID sets the run identifier instead of a random UUID.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithCloseTimeout bounds the channel Close that ends every run.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.closeTimeout = d
	}
}

// WithClock replaces time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithProgress registers a progress listener.
func WithProgress(listener ProgressListener) Option {
	return func(o *Orchestrator) {
		o.listeners = append(o.listeners, listener)
	}
}

// New creates an orchestrator. The channel is closed when Run returns.
func New(machine *Machine, ch channel.Channel, recorder Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		machine:      machine,
		channel:      ch,
		recorder:     recorder,
		closeTimeout: defaultCloseTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o
}

// RunID identifies the run in events and logs.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// OnProgress registers a progress listener
func (o *Orchestrator) OnProgress(listener ProgressListener) {
	o.progressMu.Lock()
	defer o.progressMu.Unlock()
	o.listeners = append(o.listeners, listener)
}

func (o *Orchestrator) notifyProgress(event ProgressEvent) {
	o.progressMu.Lock()
	listeners := make([]ProgressListener, len(o.listeners))
	copy(listeners, o.listeners)
	o.progressMu.Unlock()

	event.RunID = o.runID
	for _, listener := range listeners {
		listener(event)
	}
}

// Run drives the protocol to DONE or ABORT. Aborts are returned as *AbortError;
// any other error means an artifact could not be persisted.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := o.now()
	log := slog.With("run_id", o.runID)

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.closeTimeout)
		defer cancel()
		if cerr := o.channel.Close(closeCtx); cerr != nil {
			log.Warn("closing channel", "error", cerr)
		}
	}()

	timeout := o.machine.Limits().Timeout
	tr := &transcript.Transcript{}
	state, next := o.machine.Start()

	o.notifyProgress(ProgressEvent{EventType: EventRunStart, Stage: next.Stage, Phase: PhaseStage1Send})

	for {
		reply := o.exchange(ctx, state, next, timeout)

		turn := tr.Append(newTurn(state, next, reply, o.now()))
		if err := o.recorder.RecordTurn(ctx, turn); err != nil {
			return nil, fmt.Errorf("persisting turn %d: %w", turn.Seq, err)
		}
		reply.Seq = turn.Seq
		o.notifyProgress(ProgressEvent{
			EventType: EventResponse,
			Stage:     next.Stage,
			Attempt:   state.Retry.Attempt,
			Kind:      next.Kind,
			Details:   map[string]any{"outcome": string(turn.Outcome), "chars": len(turn.Response)},
		})

		nextState, action := o.machine.Step(state, reply)
		log.Debug("step", "seq", turn.Seq, "verdict", action.Verdict, "trace", action.Trace)

		switch action.Verdict {
		case VerdictAccepted:
			if err := o.recorder.RecordManifest(ctx, action.Manifest); err != nil {
				return nil, fmt.Errorf("persisting manifest: %w", err)
			}
			o.notifyProgress(ProgressEvent{
				EventType: EventStageComplete,
				Stage:     prompt.StageStructure,
				Attempt:   state.Retry.Attempt,
				Verdict:   action.Verdict,
				Phase:     nextState.Phase,
			})
		case VerdictCaptured:
			if err := o.recorder.RecordCapture(ctx, action.Capture); err != nil {
				return nil, fmt.Errorf("persisting capture: %w", err)
			}
			o.notifyProgress(ProgressEvent{
				EventType: EventStageComplete,
				Stage:     prompt.StageFiles,
				Attempt:   state.Retry.Attempt,
				Verdict:   action.Verdict,
				Phase:     nextState.Phase,
			})
		}

		if action.Abort != nil {
			log.Warn("run aborted", "reason", action.Abort.Reason, "stage", action.Abort.Stage, "attempts", action.Abort.Attempts)
			o.notifyProgress(ProgressEvent{
				EventType:  EventAbort,
				Stage:      action.Abort.Stage,
				Attempt:    state.Retry.Attempt,
				Verdict:    action.Verdict,
				Phase:      PhaseAbort,
				Violations: action.Violations,
				DurationMs: o.now().Sub(start).Milliseconds(),
				Details:    map[string]any{"reason": string(action.Abort.Reason)},
			})
			return nil, action.Abort
		}

		if nextState.Phase == PhaseDone {
			res := &Result{
				RunID:      o.runID,
				Manifest:   nextState.Manifest,
				Capture:    nextState.Capture,
				Transcript: tr,
				Retries:    len(tr.ForStage(prompt.StageStructure)) - 1,
				Duration:   o.now().Sub(start),
			}
			o.notifyProgress(ProgressEvent{
				EventType:  EventRunComplete,
				Phase:      PhaseDone,
				DurationMs: res.Duration.Milliseconds(),
				Details:    map[string]any{"retries": res.Retries, "turns": tr.Len()},
			})
			return res, nil
		}

		if action.Next == nil {
			return nil, fmt.Errorf("workflow stalled in phase %s", nextState.Phase)
		}
		if nextState.Stage() == state.Stage() {
			o.notifyProgress(ProgressEvent{
				EventType:  EventRetry,
				Stage:      action.Next.Stage,
				Attempt:    nextState.Retry.Attempt,
				Kind:       action.Next.Kind,
				Verdict:    action.Verdict,
				Phase:      nextState.Phase,
				Violations: action.Violations,
			})
		}
		state, next = nextState, *action.Next
	}
}

// exchange sends p and waits for its reply. A failed Send is reported as the
// reply so the machine sees it like any other channel failure.
func (o *Orchestrator) exchange(ctx context.Context, s State, p prompt.Prompt, timeout time.Duration) Reply {
	if err := ctx.Err(); err != nil {
		return Reply{Err: err}
	}

	if err := o.channel.Send(ctx, p.Text); err != nil {
		return Reply{Err: err}
	}
	o.notifyProgress(ProgressEvent{EventType: EventPromptSent, Stage: p.Stage, Attempt: s.Retry.Attempt, Kind: p.Kind})

	o.notifyProgress(ProgressEvent{EventType: EventAwaitStart, Stage: p.Stage, Attempt: s.Retry.Attempt, Kind: p.Kind,
		Details: map[string]any{"timeout_ms": timeout.Milliseconds()}})
	text, err := o.channel.Await(ctx, timeout)
	return Reply{Text: text, Err: err}
}

func newTurn(s State, p prompt.Prompt, r Reply, ts time.Time) transcript.Turn {
	t := transcript.Turn{
		Stage:     p.Stage,
		Attempt:   s.Retry.Attempt,
		Kind:      p.Kind,
		Prompt:    p.Text,
		Response:  r.Text,
		Outcome:   transcript.OutcomeResponded,
		Timestamp: ts.UTC(),
	}
	if r.Err == nil {
		return t
	}

	t.Response = ""
	t.Err = r.Err.Error()
	switch channel.Classify(r.Err) {
	case channel.FailureTimeout:
		t.Outcome = transcript.OutcomeTimedOut
	case channel.FailureCancelled:
		t.Outcome = transcript.OutcomeCancelled
	default:
		t.Outcome = transcript.OutcomeChannelError
	}
	return t
}
