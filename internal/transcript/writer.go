package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the transcript artifact inside a run's output directory.
const FileName = "transcript.jsonl"

// Logger receives each turn as soon as it has been exchanged.
type Logger interface {
	Log(turn Turn) error
	Close() error
}

// JSONLogger writes turns as newline-delimited JSON (NDJSON).
type JSONLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

// NewJSONLogger creates a logger that appends NDJSON to path.
// Parent directories are created automatically.
func NewJSONLogger(path string) (*JSONLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating transcript directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}

	return &JSONLogger{
		file: f,
		enc:  json.NewEncoder(f),
		path: path,
	}, nil
}

// Log writes a single turn as one JSON line and syncs it to disk.
func (l *JSONLogger) Log(turn Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(turn); err != nil {
		return fmt.Errorf("writing turn %d: %w", turn.Seq, err)
	}
	return l.file.Sync()
}

func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the file path of the transcript.
func (l *JSONLogger) Path() string {
	return l.path
}

// NopLogger discards all turns.
type NopLogger struct{}

func (NopLogger) Log(Turn) error { return nil }

func (NopLogger) Close() error { return nil }
