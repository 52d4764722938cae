// Package channel abstracts the conversational agent a run negotiates with.
//
// A Channel carries free text only. Send submits a prompt and returns once the
// prompt is on its way; Await blocks until the matching response arrives, the
// per-turn timeout elapses, or the context is cancelled.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

var (
	// ErrTimedOut is returned by Await when no response arrived within the timeout.
	ErrTimedOut = errors.New("timed out waiting for agent response")

	// ErrClosed is returned when a closed channel is used.
	ErrClosed = errors.New("channel is closed")

	// ErrNoPendingPrompt is returned by Await when nothing was sent.
	ErrNoPendingPrompt = errors.New("await called without a pending prompt")
)

//go:generate go tool mockgen -source=channel.go -destination=channelmock/mock_channel.go -package=channelmock Channel

// Channel is the only non-deterministic dependency of a run. Implementations are
// owned by exactly one run and are not safe for concurrent turns.
type Channel interface {
	// Send submits prompt to the agent.
	Send(ctx context.Context, prompt string) error

	// Await returns the agent's response to the last prompt, [ErrTimedOut] if none
	// arrives within timeout, or ctx.Err() when ctx is done first.
	Await(ctx context.Context, timeout time.Duration) (string, error)

	// Close releases the agent session. Calling Close more than once is allowed.
	Close(ctx context.Context) error
}

// FailureKind classifies a channel error for retry decisions.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTimeout   FailureKind = "timeout"
	FailureCancelled FailureKind = "cancelled"
	FailureTransport FailureKind = "transport"
)

// Classify maps an error returned by a Channel onto a [FailureKind].
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrTimedOut):
		return FailureTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	default:
		return FailureTransport
	}
}

// Engine names accepted by [New].
const (
	EngineCopilot = "copilot-sdk"
	EngineGemini  = "gemini"
	EngineMock    = "mock"
)

// Config selects and configures a channel driver.
type Config struct {
	Engine string
	Model  string
	// WorkDir is the agent's working directory, for engines that have one.
	WorkDir string
	// Options holds engine specific settings, decoded per engine.
	Options map[string]any
}

// New creates the channel driver named by cfg.Engine. Drivers connect lazily on
// the first Send, so New never talks to the agent.
func New(cfg Config) (Channel, error) {
	switch cfg.Engine {
	case EngineCopilot:
		var opts CopilotOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("%s options: %w", cfg.Engine, err)
		}
		return NewCopilotChannel(cfg.Model, cfg.WorkDir, opts, nil), nil
	case EngineGemini:
		var opts GeminiOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("%s options: %w", cfg.Engine, err)
		}
		ch, err := NewGeminiChannel(cfg.Model, opts, nil)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case EngineMock:
		var opts ScriptOptions
		if err := decodeOptions(cfg.Options, &opts); err != nil {
			return nil, fmt.Errorf("%s options: %w", cfg.Engine, err)
		}
		if opts.Script == "" {
			return nil, fmt.Errorf("%s engine requires a 'script' option", cfg.Engine)
		}
		replies, err := LoadScript(opts.Script)
		if err != nil {
			return nil, err
		}
		return NewScriptedChannel(replies...), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", cfg.Engine)
	}
}

func decodeOptions(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
