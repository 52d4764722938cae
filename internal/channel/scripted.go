package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ScriptOptions are the mock engine settings from the channel options map.
type ScriptOptions struct {
	Script string `mapstructure:"script"`
}

// Reply is one scripted agent turn.
type Reply struct {
	// Text is returned by Await.
	Text string `yaml:"text"`
	// TimedOut makes Await report [ErrTimedOut].
	TimedOut bool `yaml:"timeout,omitempty"`
	// Error makes Await fail with a transport error carrying this message.
	Error string `yaml:"error,omitempty"`
	// Delay holds the reply back. A delay at or beyond the Await timeout is a timeout.
	Delay time.Duration `yaml:"delay,omitempty"`
}

// ScriptedChannel replays a fixed list of replies, one per Send. Once the script
// is exhausted every Await times out, like an agent that stopped answering.
type ScriptedChannel struct {
	mu         sync.Mutex
	replies    []Reply
	next       int
	pending    bool
	closed     bool
	prompts    []string
	closeCalls int
}

// NewScriptedChannel creates a channel that answers with replies in order.
func NewScriptedChannel(replies ...Reply) *ScriptedChannel {
	return &ScriptedChannel{replies: replies}
}

// LoadScript reads a YAML list of [Reply] values from path.
func LoadScript(path string) ([]Reply, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}

	var replies []Reply
	if err := yaml.Unmarshal(data, &replies); err != nil {
		return nil, fmt.Errorf("parsing script %s: %w", path, err)
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("script %s has no replies", path)
	}
	return replies, nil
}

func (s *ScriptedChannel) Send(ctx context.Context, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.prompts = append(s.prompts, prompt)
	s.pending = true
	return nil
}

func (s *ScriptedChannel) Await(ctx context.Context, timeout time.Duration) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if !s.pending {
		s.mu.Unlock()
		return "", ErrNoPendingPrompt
	}
	s.pending = false

	reply := Reply{TimedOut: true}
	if s.next < len(s.replies) {
		reply = s.replies[s.next]
		s.next++
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if reply.Delay > 0 {
		wait := min(reply.Delay, timeout)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if reply.Delay >= timeout {
			return "", ErrTimedOut
		}
	}

	switch {
	case reply.TimedOut:
		return "", ErrTimedOut
	case reply.Error != "":
		return "", errors.New(reply.Error)
	default:
		return reply.Text, nil
	}
}

func (s *ScriptedChannel) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCalls++
	return nil
}

// Prompts returns every prompt sent so far, in order.
func (s *ScriptedChannel) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Closed reports whether Close was called.
func (s *ScriptedChannel) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
