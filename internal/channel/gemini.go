package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel     = "gemini-2.5-pro"
	defaultGeminiAPIKeyEnv = "GEMINI_API_KEY"
)

// GeminiOptions are the gemini engine settings from the channel options map.
type GeminiOptions struct {
	APIKeyEnv   string   `mapstructure:"api_key_env"`
	Temperature *float64 `mapstructure:"temperature"`
}

// chatSession is the slice of [genai.Chat] the channel needs.
type chatSession interface {
	SendMessage(ctx context.Context, prompt string) (string, error)
}

// ChatFactory opens a chat session on first use.
type ChatFactory func(ctx context.Context) (chatSession, error)

type turnResult struct {
	text string
	err  error
}

// GeminiChannel runs each turn on its own goroutine so Await can time out or be
// cancelled without blocking on the HTTP call. At most one turn is in flight.
type GeminiChannel struct {
	newChat ChatFactory

	mu      sync.Mutex
	chat    chatSession
	closed  bool
	pending chan turnResult
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGeminiChannel creates a channel backed by a Gemini chat. A nil factory uses the
// Gemini API with the key read from opts.APIKeyEnv (default GEMINI_API_KEY).
func NewGeminiChannel(model string, opts GeminiOptions, factory ChatFactory) (*GeminiChannel, error) {
	if factory == nil {
		envName := opts.APIKeyEnv
		if envName == "" {
			envName = defaultGeminiAPIKeyEnv
		}
		apiKey := os.Getenv(envName)
		if apiKey == "" {
			return nil, fmt.Errorf("gemini engine requires an API key in $%s", envName)
		}
		if model == "" {
			model = defaultGeminiModel
		}
		factory = genaiChatFactory(apiKey, model, opts.Temperature)
	}

	return &GeminiChannel{newChat: factory}, nil
}

func genaiChatFactory(apiKey, model string, temperature *float64) ChatFactory {
	return func(ctx context.Context) (chatSession, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create GenAI client: %w", err)
		}

		var config *genai.GenerateContentConfig
		if temperature != nil {
			config = &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(*temperature))}
		}

		chat, err := client.Chats.Create(ctx, model, config, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create GenAI chat: %w", err)
		}
		slog.Debug("Gemini chat created", "model", model)
		return &genaiChat{chat: chat}, nil
	}
}

type genaiChat struct {
	chat *genai.Chat
}

func (g *genaiChat) SendMessage(ctx context.Context, prompt string) (string, error) {
	resp, err := g.chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Send starts the turn in the background. An unawaited earlier turn is cancelled
// first, so the chat never sees two concurrent requests.
func (g *GeminiChannel) Send(ctx context.Context, prompt string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	g.stopTurnLocked()
	g.wg.Wait()

	if g.chat == nil {
		chat, err := g.newChat(ctx)
		if err != nil {
			return err
		}
		g.chat = chat
	}

	turnCtx, cancel := context.WithCancel(ctx)
	results := make(chan turnResult, 1)
	chat := g.chat

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		text, err := chat.SendMessage(turnCtx, prompt)
		if err != nil {
			err = fmt.Errorf("gemini send failed: %w", err)
		}
		results <- turnResult{text: text, err: err}
	}()

	g.pending = results
	g.cancel = cancel
	return nil
}

// Await waits for the in-flight turn. On timeout or cancellation the turn's request
// is cancelled.
func (g *GeminiChannel) Await(ctx context.Context, timeout time.Duration) (string, error) {
	g.mu.Lock()
	pending := g.pending
	closed := g.closed
	g.mu.Unlock()

	if closed {
		return "", ErrClosed
	}
	if pending == nil {
		return "", ErrNoPendingPrompt
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pending:
		g.mu.Lock()
		if g.pending == pending {
			g.cancel()
			g.pending, g.cancel = nil, nil
		}
		g.mu.Unlock()
		return res.text, res.err
	case <-timer.C:
		g.abandon(pending)
		return "", ErrTimedOut
	case <-ctx.Done():
		g.abandon(pending)
		return "", ctx.Err()
	}
}

// Close cancels any in-flight turn and waits for its goroutine to exit.
func (g *GeminiChannel) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.stopTurnLocked()
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("gemini turn did not stop before close deadline"), ctx.Err())
	}
}

func (g *GeminiChannel) abandon(pending chan turnResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == pending {
		g.stopTurnLocked()
	}
}

func (g *GeminiChannel) stopTurnLocked() {
	if g.cancel != nil {
		g.cancel()
	}
	g.pending, g.cancel = nil, nil
}
