package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spboyer/ideaforge/internal/sourcefiles"
	"github.com/spf13/cobra"
)

func newSplitCommand() *cobra.Command {
	var (
		outDir string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "split <capture.md>",
		Short: "Write the source files held in a Stage 2 capture",
		Long: `Split a captured Stage 2 response into files. Every fenced code block
whose first line is a <!-- filepath: ... --> marker becomes one file; when a
path repeats, the later block wins. Paths outside the output directory are
rejected before anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return splitCommandE(cmd, args[0], outDir, dryRun)
		},
	}

	cmd.Flags().StringVarP(&outDir, "output-dir", "o", "", "Destination directory (default: files/ next to the capture)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the files without writing them")

	return cmd
}

func splitCommandE(cmd *cobra.Command, capturePath, outDir string, dryRun bool) error {
	data, err := os.ReadFile(capturePath)
	if err != nil {
		return fmt.Errorf("reading capture: %w", err)
	}
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(capturePath), materializeDir)
	}

	out := cmd.OutOrStdout()
	files, warnings := sourcefiles.Split(string(data))
	for _, w := range warnings {
		fmt.Fprintf(out, "⚠ %s\n", w) //nolint:errcheck
	}
	if len(files) == 0 {
		return &FailureError{Message: fmt.Sprintf("no files found in %s", capturePath)}
	}

	if dryRun {
		for _, f := range files {
			fmt.Fprintf(out, "  %s (%d bytes)\n", f.Path, len(f.Content)) //nolint:errcheck
		}
		return nil
	}

	written, err := sourcefiles.Write(outDir, files)
	if err != nil {
		return &FailureError{Message: "writing files", Err: err}
	}
	for _, p := range written {
		fmt.Fprintf(out, "  ✓ %s\n", p) //nolint:errcheck
	}
	fmt.Fprintf(out, "Wrote %d file(s) to %s\n", len(written), outDir) //nolint:errcheck
	return nil
}
