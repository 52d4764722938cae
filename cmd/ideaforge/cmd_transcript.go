package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spboyer/ideaforge/internal/transcript"
	"github.com/spf13/cobra"
)

func newTranscriptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Inspect run transcripts",
	}
	cmd.AddCommand(newTranscriptShowCommand())
	return cmd
}

func newTranscriptShowCommand() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <run-dir | transcript.jsonl>",
		Short: "Print the turn timeline of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, transcript.FileName)
			}

			turns, err := transcript.Read(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			transcript.RenderTimeline(out, turns)
			if full {
				for _, t := range turns {
					fmt.Fprintf(out, "── #%d stage %d %s prompt ──\n%s\n", t.Seq, int(t.Stage), t.Kind, t.Prompt) //nolint:errcheck
					if t.HasResponse() {
						fmt.Fprintf(out, "── #%d response ──\n%s\n", t.Seq, t.Response) //nolint:errcheck
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Also print every prompt and response")

	return cmd
}
