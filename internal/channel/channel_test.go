package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureNone},
		{"timeout", ErrTimedOut, FailureTimeout},
		{"wrapped timeout", fmt.Errorf("turn 3: %w", ErrTimedOut), FailureTimeout},
		{"cancelled", context.Canceled, FailureCancelled},
		{"deadline", context.DeadlineExceeded, FailureCancelled},
		{"transport", errors.New("broken pipe"), FailureTransport},
		{"closed", ErrClosed, FailureTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNew_Mock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- text: hello\n"), 0o644))

	ch, err := New(Config{Engine: EngineMock, Options: map[string]any{"script": path}})
	require.NoError(t, err)
	require.IsType(t, &ScriptedChannel{}, ch)
}

func TestNew_MockRequiresScript(t *testing.T) {
	_, err := New(Config{Engine: EngineMock})
	require.ErrorContains(t, err, "requires a 'script' option")
}

func TestNew_Copilot(t *testing.T) {
	ch, err := New(Config{
		Engine:  EngineCopilot,
		Model:   "gpt-4o",
		WorkDir: t.TempDir(),
		Options: map[string]any{"log_level": "debug"},
	})
	require.NoError(t, err)
	require.IsType(t, &CopilotChannel{}, ch)
}

func TestNew_UnknownOption(t *testing.T) {
	_, err := New(Config{Engine: EngineCopilot, Options: map[string]any{"verbosity": 3}})
	require.ErrorContains(t, err, "copilot-sdk options")
}

func TestNew_GeminiWeakTyping(t *testing.T) {
	t.Setenv("IDEAFORGE_TEST_KEY", "k")
	ch, err := New(Config{
		Engine:  EngineGemini,
		Model:   "gemini-2.5-flash",
		Options: map[string]any{"api_key_env": "IDEAFORGE_TEST_KEY", "temperature": "0.2"},
	})
	require.NoError(t, err)
	require.IsType(t, &GeminiChannel{}, ch)
}

func TestNew_UnknownEngine(t *testing.T) {
	_, err := New(Config{Engine: "carrier-pigeon"})
	require.EqualError(t, err, "unknown engine type: carrier-pigeon")
}
