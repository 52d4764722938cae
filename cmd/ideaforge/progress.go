package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spboyer/ideaforge/internal/spinner"
	"github.com/spboyer/ideaforge/internal/workflow"
	"golang.org/x/term"
)

// progressPrinter turns workflow events into terminal lines. A printer with a
// prefix is used per batch job; all printers sharing a lockedWriter keep whole
// lines intact.
type progressPrinter struct {
	w       io.Writer
	prefix  string
	verbose bool
	animate bool

	mu   sync.Mutex
	spin *spinner.Spinner
}

func newProgressPrinter(w io.Writer, prefix string, verbose bool) *progressPrinter {
	return &progressPrinter{w: w, prefix: prefix, verbose: verbose}
}

// withSpinner animates the wait for each response when w is a terminal.
func (p *progressPrinter) withSpinner() *progressPrinter {
	p.animate = isTerminal(p.w)
	return p
}

//nolint:errcheck // display-only writes; errors are not actionable
func (p *progressPrinter) listener(event workflow.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.EventType != workflow.EventAwaitStart {
		p.stopSpinner()
	}

	switch event.EventType {
	case workflow.EventRunStart:
		fmt.Fprintf(p.w, "%s→ stage %d (%s): sending initial prompt\n", p.prefix, int(event.Stage), event.Stage)
	case workflow.EventPromptSent:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  [PROMPT] stage %d %s (attempt %d)\n", p.prefix, int(event.Stage), event.Kind, event.Attempt)
		}
	case workflow.EventAwaitStart:
		msg := fmt.Sprintf("waiting for stage %d response", int(event.Stage))
		if event.Attempt > 0 {
			msg += fmt.Sprintf(" (retry %d)", event.Attempt)
		}
		if p.animate {
			p.spin = spinner.Start(p.w, msg)
		} else if p.verbose {
			fmt.Fprintf(p.w, "%s  [WAIT] %s\n", p.prefix, msg)
		}
	case workflow.EventResponse:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  [RESPONSE] %v, %v chars\n", p.prefix, event.Details["outcome"], event.Details["chars"])
		}
	case workflow.EventRetry:
		fmt.Fprintf(p.w, "%s↻ stage %d retry %d: %s\n", p.prefix, int(event.Stage), event.Attempt, retryCause(event))
	case workflow.EventStageComplete:
		label := "manifest accepted"
		if event.Verdict == workflow.VerdictCaptured {
			label = "source files captured"
		}
		fmt.Fprintf(p.w, "%s✓ stage %d (%s): %s\n", p.prefix, int(event.Stage), event.Stage, label)
	case workflow.EventAbort:
		fmt.Fprintf(p.w, "%s✗ aborted in stage %d: %v\n", p.prefix, int(event.Stage), event.Details["reason"])
		for _, v := range event.Violations {
			fmt.Fprintf(p.w, "%s    - %s\n", p.prefix, v)
		}
	case workflow.EventRunComplete:
		duration := time.Duration(event.DurationMs) * time.Millisecond
		fmt.Fprintf(p.w, "%s✓ done in %s\n", p.prefix, formatDuration(duration))
	}
}

// stop clears a running spinner. Call it before printing anything else.
func (p *progressPrinter) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopSpinner()
}

func (p *progressPrinter) stopSpinner() {
	if p.spin != nil {
		p.spin.Stop()
		p.spin = nil
	}
}

func retryCause(event workflow.ProgressEvent) string {
	switch {
	case len(event.Violations) > 0:
		return strings.Join(event.Violations, "; ")
	case event.Verdict != "":
		return string(event.Verdict)
	default:
		return string(event.Kind)
	}
}

// lockedWriter serializes writes from concurrent batch jobs.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
