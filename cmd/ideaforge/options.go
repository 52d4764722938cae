package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spboyer/ideaforge/internal/channel"
	"github.com/spboyer/ideaforge/internal/inputs"
	"github.com/spboyer/ideaforge/internal/projectconfig"
	"github.com/spf13/cobra"
)

// runFlags are the settings shared by run and batch. Flags that were set on
// the command line override .ideaforge.yaml.
type runFlags struct {
	configDir          string
	outputDir          string
	engine             string
	model              string
	script             string
	timeout            time.Duration
	maxAttempts        int
	maxChannelFailures int
	materialize        bool
	verbose            bool
	inputs             inputs.Paths
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configDir, "config-dir", "", "Directory to search for "+projectconfig.FileName+" (default: current directory)")
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "Directory that receives one subdirectory per run")
	fs.StringVar(&f.engine, "engine", "", "Agent engine: copilot-sdk, gemini, mock")
	fs.StringVar(&f.model, "model", "", "Model identifier passed to the engine")
	fs.StringVar(&f.script, "script", "", "Reply script for the mock engine (implies --engine mock)")
	fs.DurationVar(&f.timeout, "timeout", 0, "How long to wait for each agent response (default 2m)")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "Stage 1 retries allowed after invalid responses, 0 for unbounded (default 5)")
	fs.IntVar(&f.maxChannelFailures, "max-channel-failures", 0, "Consecutive channel failures before aborting (default 3)")
	fs.BoolVar(&f.materialize, "materialize", false, "Write the Stage 2 source files below the run directory")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Print every prompt and response event")

	fs.StringVar(&f.inputs.Schema, "schema", "", "Project manifest JSON Schema")
	fs.StringVar(&f.inputs.Tables, "tables", "", "Implementation tables guardrail")
	fs.StringVar(&f.inputs.Contracts, "contracts", "", "Output contracts guardrail")
	fs.StringVar(&f.inputs.Validation, "validation", "", "Validation rules guardrail")
	fs.StringVar(&f.inputs.Todo, "todo", "", "TODO file holding the AI coding TODO list section")
	fs.StringVar(&f.inputs.ContextTree, "context-tree", "", "File tree context")
	fs.StringVar(&f.inputs.CallGraph, "call-graph", "", "Call graph context")
	fs.StringVar(&f.inputs.DeadCode, "dead-code", "", "Dead code context")
	fs.StringVar(&f.inputs.Signatures, "signatures", "", "Signatures context")
	fs.StringVar(&f.inputs.StructureTemplate, "structure-template", "", "Replacement Stage 1 prompt template")
}

// load reads .ideaforge.yaml and applies the flags that were set.
func (f *runFlags) load(cmd *cobra.Command) (*projectconfig.ProjectConfig, error) {
	dir := f.configDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := projectconfig.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := f.apply(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *projectconfig.ProjectConfig) error {
	fs := cmd.Flags()

	if f.outputDir != "" {
		p, err := filepath.Abs(f.outputDir)
		if err != nil {
			return fmt.Errorf("resolving --output-dir: %w", err)
		}
		cfg.Paths.Output = p
	}
	if f.engine != "" {
		cfg.Channel.Engine = f.engine
	}
	if f.model != "" {
		cfg.Channel.Model = f.model
	}
	if f.script != "" {
		p, err := filepath.Abs(f.script)
		if err != nil {
			return fmt.Errorf("resolving --script: %w", err)
		}
		if !fs.Changed("engine") {
			cfg.Channel.Engine = channel.EngineMock
		}
		cfg.Channel.Options = map[string]any{"script": p}
	}
	if fs.Changed("timeout") {
		if f.timeout < time.Second {
			return fmt.Errorf("--timeout must be at least 1s, got %s", f.timeout)
		}
		cfg.Channel.Timeout = int(f.timeout.Round(time.Second) / time.Second)
	}
	if fs.Changed("max-attempts") {
		if f.maxAttempts < 0 {
			return fmt.Errorf("--max-attempts must not be negative")
		}
		n := f.maxAttempts
		cfg.Retry.MaxAttempts = &n
	}
	if fs.Changed("max-channel-failures") {
		if f.maxChannelFailures < 1 {
			return fmt.Errorf("--max-channel-failures must be at least 1")
		}
		cfg.Retry.MaxChannelFailures = f.maxChannelFailures
	}

	for _, p := range []struct {
		flag string
		dst  *string
		val  string
	}{
		{"schema", &cfg.Inputs.Schema, f.inputs.Schema},
		{"tables", &cfg.Inputs.Tables, f.inputs.Tables},
		{"contracts", &cfg.Inputs.Contracts, f.inputs.Contracts},
		{"validation", &cfg.Inputs.Validation, f.inputs.Validation},
		{"todo", &cfg.Inputs.Todo, f.inputs.Todo},
		{"context-tree", &cfg.Inputs.ContextTree, f.inputs.ContextTree},
		{"call-graph", &cfg.Inputs.CallGraph, f.inputs.CallGraph},
		{"dead-code", &cfg.Inputs.DeadCode, f.inputs.DeadCode},
		{"signatures", &cfg.Inputs.Signatures, f.inputs.Signatures},
		{"structure-template", &cfg.Inputs.StructureTemplate, f.inputs.StructureTemplate},
	} {
		if p.val == "" {
			continue
		}
		// Flag paths are relative to the working directory, not the config root.
		abs, err := filepath.Abs(p.val)
		if err != nil {
			return fmt.Errorf("resolving --%s: %w", p.flag, err)
		}
		*p.dst = abs
	}
	return nil
}
