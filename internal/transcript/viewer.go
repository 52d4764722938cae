package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Read parses every turn from a transcript file. Malformed lines are skipped.
func Read(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var turns []Turn
	scanner := bufio.NewScanner(f)
	// Prompts embed whole templates, so lines get long.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var t Turn
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return turns, nil
}

// RenderTimeline writes a human-readable summary of turns to w.
//
//nolint:errcheck // display-only writes; errors are not actionable
func RenderTimeline(w io.Writer, turns []Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No turns found.")
		return
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, " RUN TRANSCRIPT")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	start := turns[0].Timestamp
	for _, t := range turns {
		ts := formatDuration(t.Timestamp.Sub(start))
		label := fmt.Sprintf("stage %d (%s) %s", int(t.Stage), t.Stage, t.Kind)

		switch t.Outcome {
		case OutcomeResponded:
			fmt.Fprintf(w, "[%s] #%d ✓ %s  %d chars → %s\n", ts, t.Seq, label, len(t.Response), t.ResponseName())
		case OutcomeTimedOut:
			fmt.Fprintf(w, "[%s] #%d ⏱ %s  no response in time\n", ts, t.Seq, label)
		case OutcomeCancelled:
			fmt.Fprintf(w, "[%s] #%d ⏹ %s  cancelled\n", ts, t.Seq, label)
		default:
			fmt.Fprintf(w, "[%s] #%d ✗ %s  %s\n", ts, t.Seq, label, t.Err)
		}
	}
	fmt.Fprintln(w)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%6dms", d.Milliseconds())
	}
	return fmt.Sprintf("%6.1fs", d.Seconds())
}
