package channel

import (
	"context"
	"log/slog"

	copilot "github.com/github/copilot-sdk/go"
)

// sessionToSlog mirrors copilot session events into the debug log.
func sessionToSlog(event copilot.SessionEvent) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{
		"type", event.Type,
	}

	attrs = addIf(attrs, "content", event.Data.Content)
	attrs = addIf(attrs, "toolName", event.Data.ToolName)
	attrs = addIf(attrs, "toolCallID", event.Data.ToolCallID)
	attrs = addIf(attrs, "message", event.Data.Message)

	slog.Debug("Copilot event received", attrs...)
}

func addIf[T any](attrs []any, name string, v *T) []any {
	if v != nil {
		attrs = append(attrs, name, *v)
	}

	return attrs
}
