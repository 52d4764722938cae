package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spboyer/ideaforge/internal/batch"
	"github.com/spboyer/ideaforge/internal/inputs"
	"github.com/spboyer/ideaforge/internal/workflow"
	"github.com/spf13/cobra"
)

func newBatchCommand() *cobra.Command {
	var (
		flags   runFlags
		workers int
	)

	cmd := &cobra.Command{
		Use:   "batch <ideas.yaml>",
		Short: "Run several ideas in parallel",
		Long: `Run the two-stage exchange for every idea in a YAML file:

  ideas:
    - name: habits
      idea: A habit tracker with streaks
    - idea: A recipe planner

Each idea gets its own agent channel, transcript and output directory.
Guardrails and context are loaded once and shared.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return batchCommandE(cmd, &flags, args[0], workers)
		},
	}

	flags.bind(cmd)
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of ideas run concurrently (default 4)")

	return cmd
}

func batchCommandE(cmd *cobra.Command, flags *runFlags, ideasPath string, workers int) error {
	cfg, err := flags.load(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("workers") {
		workers = cfg.Batch.Workers
	}
	if workers <= 0 {
		workers = batch.DefaultWorkers
	}

	jobs, err := batch.LoadJobs(ideasPath)
	if err != nil {
		return err
	}

	shared, err := inputs.LoadShared(cfg.InputPaths())
	if err != nil {
		return workflow.InputError(err)
	}

	runner, err := newIdeaRunner(cfg, flags.materialize)
	if err != nil {
		return err
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	fmt.Fprintf(out, "Running %d idea(s) with %d worker(s)...\n\n", len(jobs), workers) //nolint:errcheck

	dirs := make([]string, len(jobs))
	outcomes := batch.Run(cmd.Context(), jobs, workers, func(ctx context.Context, job batch.Job) (*workflow.Result, error) {
		bundle, err := shared.WithIdea(job.Idea)
		if err != nil {
			return nil, workflow.InputError(err)
		}
		printer := newProgressPrinter(out, "["+job.Name+"] ", flags.verbose)
		res, output, err := runner.run(ctx, bundle, job.Name, printer.listener)
		if output != nil {
			dirs[jobIndex(jobs, job.Name)] = output.Dir
		}
		return res, err
	}, nil)

	printBatchSummary(cmd.OutOrStdout(), outcomes, dirs)

	summary := batch.Summarize(outcomes)
	if summary.Done < summary.Total {
		return &FailureError{Message: fmt.Sprintf("%d of %d idea(s) did not complete", summary.Total-summary.Done, summary.Total)}
	}
	return nil
}

// jobIndex finds a job by its unique name.
func jobIndex(jobs []batch.Job, name string) int {
	for i, j := range jobs {
		if j.Name == name {
			return i
		}
	}
	return -1
}

// printBatchSummary writes a results table, one row per idea.
//
//nolint:errcheck // display-only writes; errors are not actionable
func printBatchSummary(w io.Writer, outcomes []batch.Outcome, dirs []string) {
	const (
		nameWidth   = 24
		statusWidth = 36
	)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintln(w, " BATCH RESULTS")
	fmt.Fprintln(w, "="+strings.Repeat("=", 50))
	fmt.Fprintf(w, "%s  %s  %7s  %9s  %s\n", padRight("Idea", nameWidth), padRight("Status", statusWidth), "Retries", "Duration", "Output")

	for i, o := range outcomes {
		icon := "✓"
		if o.Err != nil {
			icon = "✗"
		}
		retries := "-"
		if o.Result != nil {
			retries = fmt.Sprintf("%d", o.Result.Retries)
		}
		status := icon + " " + o.Status()
		fmt.Fprintf(w, "%s  %s  %7s  %9s  %s\n",
			padRight(truncateName(o.Job.Name, nameWidth), nameWidth),
			padRight(truncateName(status, statusWidth), statusWidth),
			retries, formatDuration(o.Duration), dirs[i])
	}

	s := batch.Summarize(outcomes)
	fmt.Fprintf(w, "\nTotal: %d  Done: %d  Aborted: %d  Errors: %d\n", s.Total, s.Done, s.Aborted, s.Errors)
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "  %s: %v\n", o.Job.Name, o.Err)
		}
	}
}

// truncateName shortens a name to maxLen display columns, replacing the tail with "…" if needed.
func truncateName(name string, maxLen int) string {
	if runewidth.StringWidth(name) <= maxLen {
		return name
	}
	return runewidth.Truncate(name, maxLen, "…")
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
