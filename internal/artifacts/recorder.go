package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spboyer/ideaforge/internal/transcript"
)

const (
	// ManifestName holds the accepted Stage 1 payload.
	ManifestName = "manifest.json"
	// CaptureName holds the captured Stage 2 response.
	CaptureName = "02_source_files.md"
)

// Recorder persists a single run. Writes to the output directory are fatal on
// failure; mirror uploads are logged and skipped.
type Recorder struct {
	primary *DirStore
	log     transcript.Logger
	mirrors []Store
}

// NewRecorder opens dir for a run, creating the transcript file.
func NewRecorder(dir string, mirrors ...Store) (*Recorder, error) {
	primary, err := NewDirStore(dir)
	if err != nil {
		return nil, err
	}
	log, err := transcript.NewJSONLogger(filepath.Join(dir, transcript.FileName))
	if err != nil {
		return nil, err
	}
	return &Recorder{primary: primary, log: log, mirrors: mirrors}, nil
}

// Dir returns the output directory.
func (r *Recorder) Dir() string {
	return r.primary.Dir()
}

// RecordTurn appends the turn to the transcript and writes its raw response.
func (r *Recorder) RecordTurn(ctx context.Context, turn transcript.Turn) error {
	if err := r.log.Log(turn); err != nil {
		return err
	}
	if !turn.HasResponse() {
		return nil
	}
	return r.put(ctx, turn.ResponseName(), []byte(turn.Response))
}

// RecordManifest writes the accepted payload as indented JSON.
func (r *Recorder) RecordManifest(ctx context.Context, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return r.put(ctx, ManifestName, append(data, '\n'))
}

// RecordCapture writes the Stage 2 response verbatim.
func (r *Recorder) RecordCapture(ctx context.Context, text string) error {
	return r.put(ctx, CaptureName, []byte(text))
}

// Close closes the transcript and mirrors it.
func (r *Recorder) Close(ctx context.Context) error {
	if err := r.log.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	if len(r.mirrors) == 0 {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(r.primary.Dir(), transcript.FileName))
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}
	r.mirror(ctx, transcript.FileName, data)
	return nil
}

func (r *Recorder) put(ctx context.Context, name string, data []byte) error {
	// The evidence must hit disk even when the run is being cancelled.
	if err := r.primary.Put(context.WithoutCancel(ctx), name, data); err != nil {
		return err
	}
	r.mirror(ctx, name, data)
	return nil
}

func (r *Recorder) mirror(ctx context.Context, name string, data []byte) {
	for _, m := range r.mirrors {
		if err := m.Put(ctx, name, data); err != nil {
			slog.Warn("mirroring artifact failed", "name", name, "error", err)
		}
	}
}
