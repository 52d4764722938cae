package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	copilot "github.com/github/copilot-sdk/go"
)

// CopilotOptions are the copilot-sdk engine settings from the channel options map.
type CopilotOptions struct {
	LogLevel string `mapstructure:"log_level"`
}

// CopilotChannelOptions holds test hooks for [NewCopilotChannel].
type CopilotChannelOptions struct {
	NewCopilotClient func(clientOptions *copilot.ClientOptions) copilotClient
}

// copilotAbortTimeout bounds the session.abort request sent for an abandoned turn.
const copilotAbortTimeout = 10 * time.Second

// CopilotChannel talks to GitHub Copilot through one long-lived session. The
// client is started and the session created on the first Send.
//
// The session delivers every event to a single router. A turn that is abandoned
// while the agent is still working (Await timed out or was cancelled, or Send
// was called again) is aborted, and its events are dropped until its
// session.idle or session.error arrives, so a late answer never completes a
// later prompt.
type CopilotChannel struct {
	modelID string
	workDir string
	client  copilotClient

	mu          sync.Mutex
	session     copilotSession
	started     bool
	closed      bool
	unsubscribe []func()

	routeMu sync.Mutex
	turn    *turnCollector
	// stale counts abandoned turns whose terminal event has not arrived yet.
	stale int
}

// NewCopilotChannel creates a channel for modelID. modelID can be blank, in which
// case the copilot CLI picks its own fallback model.
func NewCopilotChannel(modelID, workDir string, opts CopilotOptions, hooks *CopilotChannelOptions) *CopilotChannel {
	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = "error"
	}

	copilotOptions := &copilot.ClientOptions{
		LogLevel:  logLevel,
		AutoStart: copilot.Bool(false),
	}

	var client copilotClient
	if hooks == nil || hooks.NewCopilotClient == nil {
		client = newCopilotClient(copilotOptions)
	} else {
		client = hooks.NewCopilotClient(copilotOptions)
	}

	return &CopilotChannel{
		modelID: modelID,
		workDir: workDir,
		client:  client,
	}
}

// Send starts a new turn. An earlier turn that was never awaited is abandoned.
func (c *CopilotChannel) Send(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	c.routeMu.Lock()
	previous := c.turn
	c.routeMu.Unlock()
	if c.abandonTurn(previous) {
		abortSession(ctx, c.session)
	}

	turn := newTurnCollector()
	c.routeMu.Lock()
	c.turn = turn
	c.routeMu.Unlock()

	if _, err := c.session.Send(ctx, copilot.MessageOptions{Prompt: prompt}); err != nil {
		c.routeMu.Lock()
		if c.turn == turn {
			c.turn = nil
		}
		c.routeMu.Unlock()
		return fmt.Errorf("failed to send prompt: %w", err)
	}

	return nil
}

// Await waits for the session to go idle after the last Send. On timeout or
// cancellation the in-flight turn is aborted.
func (c *CopilotChannel) Await(ctx context.Context, timeout time.Duration) (string, error) {
	c.mu.Lock()
	closed := c.closed
	session := c.session
	c.mu.Unlock()

	c.routeMu.Lock()
	turn := c.turn
	c.routeMu.Unlock()

	if closed {
		return "", ErrClosed
	}
	if turn == nil {
		return "", ErrNoPendingPrompt
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-turn.Done():
	case <-timer.C:
		if c.abandonTurn(turn) {
			abortSession(ctx, session)
		}
		return "", ErrTimedOut
	case <-ctx.Done():
		if c.abandonTurn(turn) {
			abortSession(ctx, session)
		}
		return "", ctx.Err()
	}

	c.routeMu.Lock()
	if c.turn == turn {
		c.turn = nil
	}
	c.routeMu.Unlock()

	slog.Debug("Copilot turn complete", "events", turn.Events())

	if msg := turn.ErrorMessage(); msg != "" {
		return "", fmt.Errorf("copilot session error: %s", msg)
	}

	return turn.Output(), nil
}

// Close unsubscribes event handlers and stops the client.
func (c *CopilotChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
	c.unsubscribe = nil

	c.routeMu.Lock()
	c.turn = nil
	c.routeMu.Unlock()

	if !c.started {
		return nil
	}

	if err := c.client.Stop(); err != nil {
		return fmt.Errorf("failed to stop copilot client: %w", err)
	}
	return nil
}

// SessionID returns the agent session ID, or "" before the first Send.
func (c *CopilotChannel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.SessionID()
}

func (c *CopilotChannel) ensureSession(ctx context.Context) error {
	if c.session != nil {
		return nil
	}

	if !c.started {
		if err := c.client.Start(ctx); err != nil {
			return fmt.Errorf("copilot failed to start: %w", err)
		}
		c.started = true
	}

	session, err := c.client.CreateSession(ctx, &copilot.SessionConfig{
		Model:               c.modelID,
		OnPermissionRequest: denyAllTools,
		WorkingDirectory:    c.workDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if session == nil {
		return errors.New("failed to create session: no session returned")
	}

	c.session = session
	c.unsubscribe = append(c.unsubscribe, session.On(c.route), session.On(sessionToSlog))
	slog.Debug("Copilot session created", "sessionID", session.SessionID(), "model", c.modelID)
	return nil
}

// route hands a session event to the current turn. Events of abandoned turns
// are dropped up to and including their terminal event.
func (c *CopilotChannel) route(event copilot.SessionEvent) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	if c.stale > 0 {
		if isTurnEnd(event.Type) {
			c.stale--
		}
		slog.Debug("Dropping event of an abandoned turn", "type", event.Type, "pending", c.stale)
		return
	}

	if c.turn != nil {
		c.turn.On(event)
	}
}

// abandonTurn detaches turn from routing. It reports whether the agent was
// still working on it, in which case the caller aborts the session.
func (c *CopilotChannel) abandonTurn(turn *turnCollector) bool {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	if c.turn == turn {
		c.turn = nil
	}
	if turn == nil || turn.Finished() {
		return false
	}
	c.stale++
	return true
}

func abortSession(ctx context.Context, session copilotSession) {
	if session == nil {
		return
	}
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), copilotAbortTimeout)
	defer cancel()

	if err := session.Abort(abortCtx); err != nil {
		slog.Warn("Failed to abort copilot turn", "sessionID", session.SessionID(), "error", err)
	}
}

func isTurnEnd(t copilot.SessionEventType) bool {
	return t == copilot.SessionIdle || t == copilot.SessionError
}

// denyAllTools rejects every tool request. Runs only read the agent's replies.
func denyAllTools(request copilot.PermissionRequest, invocation copilot.PermissionInvocation) (copilot.PermissionRequestResult, error) {
	return copilot.PermissionRequestResult{Kind: "denied-interactively-by-user"}, nil
}
