// Package hooks runs user-configured commands around an idea run, for example
// building the materialized source files once Stage 2 is captured.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Environment variables set for every hook command.
const (
	EnvRunDir  = "IDEAFORGE_RUN_DIR"
	EnvRunName = "IDEAFORGE_RUN_NAME"
)

// Point names a place in the run lifecycle.
type Point string

const (
	BeforeRun Point = "before_run"
	AfterRun  Point = "after_run"
)

// HookConfig defines a single hook command.
type HookConfig struct {
	Command string `yaml:"command"`
	// WorkingDirectory is relative to the run directory. Empty means the run
	// directory itself.
	WorkingDirectory string `yaml:"working_directory,omitempty"`
	ExitCodes        []int  `yaml:"exit_codes,omitempty"`
	ErrorOnFail      bool   `yaml:"error_on_fail,omitempty"`
}

// HooksConfig holds all lifecycle hooks.
type HooksConfig struct {
	// BeforeRun hooks run once the run directory exists, before the agent is contacted.
	BeforeRun []HookConfig `yaml:"before_run,omitempty"`
	// AfterRun hooks run only when both stages completed.
	AfterRun []HookConfig `yaml:"after_run,omitempty"`
}

// For returns the hooks registered at p.
func (c HooksConfig) For(p Point) []HookConfig {
	switch p {
	case BeforeRun:
		return c.BeforeRun
	case AfterRun:
		return c.AfterRun
	default:
		return nil
	}
}

// Empty reports whether no hooks are configured.
func (c HooksConfig) Empty() bool {
	return len(c.BeforeRun) == 0 && len(c.AfterRun) == 0
}

// Run identifies the run a hook executes for.
type Run struct {
	Name string
	Dir  string
}

// Runner executes hook commands at lifecycle points.
type Runner struct {
	Config HooksConfig
}

// Execute runs the hooks registered at p in order. A hook failure only stops
// the run when the hook sets error_on_fail.
func (r *Runner) Execute(ctx context.Context, p Point, run Run) error {
	for i, h := range r.Config.For(p) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("hook %s: context canceled: %w", p, err)
		}

		if err := r.runHook(ctx, p, i, h, run); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runHook(ctx context.Context, p Point, index int, h HookConfig, run Run) error {
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("hook %s[%d]: empty command", p, index)
	}

	parts := strings.Fields(h.Command)
	//nolint:gosec // hook commands come from the project's own config file
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = run.Dir
	if h.WorkingDirectory != "" {
		cmd.Dir = filepath.Join(run.Dir, h.WorkingDirectory)
	}
	cmd.Env = append(os.Environ(), EnvRunDir+"="+run.Dir, EnvRunName+"="+run.Name)

	log := slog.With("hook", fmt.Sprintf("%s[%d]", p, index), "run", run.Name)
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		log.Debug("hook output", "output", string(output))
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Non-exit error (e.g. command not found)
			if h.ErrorOnFail {
				return fmt.Errorf("hook %s[%d]: %w", p, index, err)
			}
			log.Warn("hook failed, continuing", "error", err)
			return nil
		}
		exitCode = exitErr.ExitCode()
	}

	if !isAcceptableExit(exitCode, h.ExitCodes) {
		if h.ErrorOnFail {
			return fmt.Errorf("hook %s[%d]: command exited with code %d", p, index, exitCode)
		}
		log.Warn("hook exited with unexpected code, continuing", "exit_code", exitCode, "expected", h.ExitCodes)
	}
	return nil
}

// isAcceptableExit checks whether exitCode is in the allowed list.
// An empty allowedCodes list defaults to allowing only exit code 0.
func isAcceptableExit(exitCode int, allowedCodes []int) bool {
	if len(allowedCodes) == 0 {
		return exitCode == 0
	}
	for _, code := range allowedCodes {
		if exitCode == code {
			return true
		}
	}
	return false
}
