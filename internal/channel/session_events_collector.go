package channel

import (
	"strings"
	"sync"

	copilot "github.com/github/copilot-sdk/go"
)

const sessionFailedUnknown = "session failed with unknown error"

// turnCollector gathers the assistant output of a single turn. The copilot SDK
// delivers events on its own goroutines, so all state is guarded by mu.
type turnCollector struct {
	mu          sync.Mutex
	messages    []string
	errorMsg    string
	done        chan struct{}
	closeOnce   sync.Once
	eventsCount int
	finished    bool
}

func newTurnCollector() *turnCollector {
	return &turnCollector{done: make(chan struct{})}
}

// Done is closed when the session reports idle or an error.
func (c *turnCollector) Done() <-chan struct{} {
	return c.done
}

// Finished reports whether the terminal event has arrived.
func (c *turnCollector) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Output joins the complete assistant messages received during the turn.
func (c *turnCollector) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.messages, "\n\n")
}

// Events returns how many session events the turn received.
func (c *turnCollector) Events() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventsCount
}

// ErrorMessage returns the session error message, if any.
func (c *turnCollector) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorMsg
}

// On records one session event of this turn. Events after the terminal one are ignored.
func (c *turnCollector) On(event copilot.SessionEvent) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.eventsCount++

	switch event.Type {
	case copilot.AssistantMessage:
		if event.Data.Content != nil && *event.Data.Content != "" {
			c.messages = append(c.messages, *event.Data.Content)
		}
	// these are both termination events
	case copilot.SessionIdle, copilot.SessionError:
		if event.Type == copilot.SessionError {
			if event.Data.Message == nil || *event.Data.Message == "" {
				c.errorMsg = sessionFailedUnknown
			} else {
				c.errorMsg = *event.Data.Message
			}
		}
		c.finished = true
		c.mu.Unlock()
		c.closeOnce.Do(func() { close(c.done) })
		return
	}

	c.mu.Unlock()
}
