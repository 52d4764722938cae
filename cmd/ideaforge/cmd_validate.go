package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spboyer/ideaforge/internal/projectconfig"
	"github.com/spboyer/ideaforge/internal/validation"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "validate <manifest.json>",
		Short: "Validate a project manifest against the schema",
		Long: `Validate a JSON project manifest offline, using the same schema and
violation messages as Stage 1. The schema defaults to inputs.schema from
.ideaforge.yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateCommandE(cmd, args[0], schemaPath)
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON Schema file (default: inputs.schema from config)")

	return cmd
}

func validateCommandE(cmd *cobra.Command, manifestPath, schemaPath string) error {
	if schemaPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		cfg, err := projectconfig.Load(wd)
		if err != nil {
			return err
		}
		schemaPath = cfg.InputPaths().Schema
	}

	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	schema, err := validation.Compile(filepath.Base(schemaPath), data)
	if err != nil {
		return err
	}

	violations, err := schema.ValidateFile(manifestPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(violations) == 0 {
		fmt.Fprintf(out, "✓ %s is valid\n", manifestPath) //nolint:errcheck
		return nil
	}

	fmt.Fprintf(out, "✗ %s has %d violation(s):\n", manifestPath, len(violations)) //nolint:errcheck
	for _, v := range violations {
		fmt.Fprintf(out, "  - %s\n", v) //nolint:errcheck
	}
	return &FailureError{Message: fmt.Sprintf("%d schema violation(s)", len(violations))}
}
