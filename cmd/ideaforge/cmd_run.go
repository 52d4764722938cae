package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spboyer/ideaforge/internal/inputs"
	"github.com/spboyer/ideaforge/internal/wizard"
	"github.com/spboyer/ideaforge/internal/workflow"
	"github.com/spf13/cobra"
)

// defaultRunName labels run directories when no --name is given.
const defaultRunName = "idea"

func newRunCommand() *cobra.Command {
	var (
		flags    runFlags
		idea     string
		ideaFile string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Turn one idea into a validated manifest and source files",
		Long: `Run the two-stage exchange for a single idea.

The idea comes from --idea, --idea-file, the inputs.idea entry in
.ideaforge.yaml, or an interactive prompt when stdin is a terminal.
Every prompt, response and the accepted manifest are written to a new
directory below the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommandE(cmd, &flags, idea, ideaFile, name)
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&idea, "idea", "", "Idea text")
	cmd.Flags().StringVar(&ideaFile, "idea-file", "", "File holding the idea text")
	cmd.Flags().StringVar(&name, "name", "", "Label for the run directory (default \"idea\")")
	cmd.MarkFlagsMutuallyExclusive("idea", "idea-file")

	return cmd
}

func runCommandE(cmd *cobra.Command, flags *runFlags, idea, ideaFile, name string) error {
	cfg, err := flags.load(cmd)
	if err != nil {
		return err
	}
	if ideaFile != "" {
		p, err := filepath.Abs(ideaFile)
		if err != nil {
			return fmt.Errorf("resolving --idea-file: %w", err)
		}
		cfg.Inputs.Idea = p
	}

	paths := cfg.InputPaths()
	if strings.TrimSpace(idea) == "" && paths.Idea == "" && wizard.IsInteractive(cmd.InOrStdin()) {
		spec, err := wizard.RunIdeaWizard(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		idea = spec.Idea
		if name == "" {
			name = spec.Name
		}
	}
	if name == "" {
		name = defaultRunName
	}

	bundle, err := inputs.Load(paths, idea)
	if err != nil {
		return workflow.InputError(err)
	}

	runner, err := newIdeaRunner(cfg, flags.materialize)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := newProgressPrinter(out, "", flags.verbose).withSpinner()
	res, output, err := runner.run(cmd.Context(), bundle, name, printer.listener)
	printer.stop()
	if err != nil {
		if output != nil {
			fmt.Fprintf(out, "Partial artifacts: %s\n", output.Dir) //nolint:errcheck
		}
		return err
	}

	printRunSummary(out, res, output)
	return nil
}
