package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spboyer/ideaforge/internal/artifacts"
	"github.com/spboyer/ideaforge/internal/channel"
	"github.com/spboyer/ideaforge/internal/hooks"
	"github.com/spboyer/ideaforge/internal/inputs"
	"github.com/spboyer/ideaforge/internal/projectconfig"
	"github.com/spboyer/ideaforge/internal/sourcefiles"
	"github.com/spboyer/ideaforge/internal/transcript"
	"github.com/spboyer/ideaforge/internal/workflow"
)

// materializeDir is the run subdirectory that receives Stage 2 source files.
const materializeDir = "files"

// ideaRunner executes single ideas against one project configuration. It is
// safe for concurrent use; every call gets its own channel and output directory.
type ideaRunner struct {
	cfg         *projectconfig.ProjectConfig
	mirror      *artifacts.BlobStore
	materialize bool
	now         func() time.Time
}

// runOutput is what a finished run left on disk.
type runOutput struct {
	Dir     string
	Written []string
	// Warnings come from splitting the capture into files.
	Warnings []string
}

func newIdeaRunner(cfg *projectconfig.ProjectConfig, materialize bool) (*ideaRunner, error) {
	r := &ideaRunner{cfg: cfg, materialize: materialize, now: time.Now}
	if cfg.Artifacts.Blob.Enabled() {
		store, err := artifacts.NewBlobStore(cfg.Artifacts.Blob)
		if err != nil {
			return nil, fmt.Errorf("configuring artifact mirror: %w", err)
		}
		r.mirror = store
	}
	return r, nil
}

// run negotiates one idea to DONE. Aborts come back as *workflow.AbortError;
// other failures are wrapped in *FailureError.
func (r *ideaRunner) run(ctx context.Context, bundle *inputs.Bundle, name string, progress workflow.ProgressListener) (*workflow.Result, *runOutput, error) {
	prompts, err := bundle.PromptSet()
	if err != nil {
		return nil, nil, workflow.InputError(err)
	}

	runDir, err := artifacts.CreateRunDir(r.cfg.OutputDir(), transcript.RunDirName(name, r.now()))
	if err != nil {
		return nil, nil, &FailureError{Message: "preparing run directory", Err: err}
	}
	out := &runOutput{Dir: runDir}

	ch, err := channel.New(r.cfg.ChannelConfig(out.Dir))
	if err != nil {
		_ = os.Remove(runDir)
		return nil, nil, fmt.Errorf("creating channel: %w", err)
	}

	var mirrors []artifacts.Store
	if r.mirror != nil {
		mirrors = append(mirrors, r.mirror.WithPrefix(filepath.Base(runDir)))
	}
	rec, err := artifacts.NewRecorder(out.Dir, mirrors...)
	if err != nil {
		_ = ch.Close(ctx)
		return nil, out, &FailureError{Message: "preparing run directory", Err: err}
	}

	hookRunner := &hooks.Runner{Config: r.cfg.Hooks}
	hookRun := hooks.Run{Name: name, Dir: out.Dir}
	if err := hookRunner.Execute(ctx, hooks.BeforeRun, hookRun); err != nil {
		_ = ch.Close(ctx)
		_ = rec.Close(context.WithoutCancel(ctx))
		return nil, out, &FailureError{Message: "before_run hook", Err: err}
	}

	machine := workflow.NewMachine(prompts, bundle.Schema, r.cfg.Limits())
	opts := []workflow.Option{workflow.WithClock(r.now)}
	if progress != nil {
		opts = append(opts, workflow.WithProgress(progress))
	}

	res, runErr := workflow.New(machine, ch, rec, opts...).Run(ctx)
	if err := rec.Close(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("closing run recorder", "dir", out.Dir, "error", err)
		if runErr == nil {
			runErr = &FailureError{Message: "finalizing transcript", Err: err}
		}
	}
	if runErr != nil {
		if _, ok := workflow.AbortReason(runErr); ok {
			return nil, out, runErr
		}
		var failure *FailureError
		if errors.As(runErr, &failure) {
			return nil, out, runErr
		}
		return nil, out, &FailureError{Message: "run failed", Err: runErr}
	}

	if r.materialize {
		files, warnings := sourcefiles.Split(res.Capture)
		out.Warnings = warnings
		out.Written, err = sourcefiles.Write(filepath.Join(out.Dir, materializeDir), files)
		if err != nil {
			return res, out, &FailureError{Message: "materializing source files", Err: err}
		}
	}

	if err := hookRunner.Execute(ctx, hooks.AfterRun, hookRun); err != nil {
		return res, out, &FailureError{Message: "after_run hook", Err: err}
	}
	return res, out, nil
}

// printRunSummary writes the closing lines for a completed run.
//
//nolint:errcheck // display-only writes; errors are not actionable
func printRunSummary(w io.Writer, res *workflow.Result, out *runOutput) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintln(w, " RUN COMPLETE")
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintf(w, "Run:        %s\n", res.RunID)
	fmt.Fprintf(w, "Retries:    %d\n", res.Retries)
	fmt.Fprintf(w, "Turns:      %d\n", res.Transcript.Len())
	fmt.Fprintf(w, "Duration:   %s\n", formatDuration(res.Duration))
	fmt.Fprintf(w, "Artifacts:  %s\n", out.Dir)
	if len(out.Written) > 0 {
		fmt.Fprintf(w, "Files:      %d written to %s\n", len(out.Written), filepath.Join(out.Dir, materializeDir))
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "  ⚠ %s\n", warning)
	}
}

// formatDuration formats a duration in a consistent, human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
