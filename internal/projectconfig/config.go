// Package projectconfig provides the ProjectConfig struct and loader for
// .ideaforge.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/spboyer/ideaforge/internal/artifacts"
	"github.com/spboyer/ideaforge/internal/channel"
	"github.com/spboyer/ideaforge/internal/hooks"
	"github.com/spboyer/ideaforge/internal/inputs"
	"github.com/spboyer/ideaforge/internal/workflow"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the working directory.
const FileName = ".ideaforge.yaml"

// Default values for project configuration. New() references them and no other
// code should duplicate them.
const (
	DefaultOutputDir = "artifacts/ideaforge"

	DefaultEngine  = channel.EngineCopilot
	DefaultModel   = "gpt-4.1"
	DefaultTimeout = 120

	DefaultMaxAttempts        = workflow.DefaultMaxAttempts
	DefaultMaxChannelFailures = workflow.DefaultMaxChannelFailures

	DefaultWorkers = 4
)

// PathsConfig holds output locations.
type PathsConfig struct {
	Output string `yaml:"output,omitempty"`
}

// ChannelConfig selects the agent driver.
type ChannelConfig struct {
	Engine string `yaml:"engine,omitempty"`
	Model  string `yaml:"model,omitempty"`
	// Timeout is the per-response wait in seconds.
	Timeout int            `yaml:"timeout,omitempty"`
	Options map[string]any `yaml:"options,omitempty"`
}

// RetryConfig bounds retries. MaxAttempts is a pointer because 0 (unbounded)
// is a meaningful setting.
type RetryConfig struct {
	MaxAttempts        *int `yaml:"max_attempts,omitempty"`
	MaxChannelFailures int  `yaml:"max_channel_failures,omitempty"`
}

// BatchConfig holds parallel run settings.
type BatchConfig struct {
	Workers int `yaml:"workers,omitempty"`
}

// ArtifactsConfig holds artifact mirrors.
type ArtifactsConfig struct {
	Blob artifacts.BlobConfig `yaml:"blob,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .ideaforge.yaml.
type ProjectConfig struct {
	Paths     PathsConfig       `yaml:"paths,omitempty"`
	Inputs    inputs.Paths      `yaml:"inputs,omitempty"`
	Channel   ChannelConfig     `yaml:"channel,omitempty"`
	Retry     RetryConfig       `yaml:"retry,omitempty"`
	Batch     BatchConfig       `yaml:"batch,omitempty"`
	Artifacts ArtifactsConfig   `yaml:"artifacts,omitempty"`
	Hooks     hooks.HooksConfig `yaml:"hooks,omitempty"`

	// Root is the directory relative paths are resolved against: the directory
	// holding the config file, or the start directory when there is none.
	Root string `yaml:"-"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Paths:  PathsConfig{Output: DefaultOutputDir},
		Inputs: inputs.DefaultPaths(),
		Channel: ChannelConfig{
			Engine:  DefaultEngine,
			Model:   DefaultModel,
			Timeout: DefaultTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts:        intPtr(DefaultMaxAttempts),
			MaxChannelFailures: DefaultMaxChannelFailures,
		},
		Batch: BatchConfig{Workers: DefaultWorkers},
	}
}

// Load finds .ideaforge.yaml by walking up from startDir (max 10 levels),
// unmarshals it, and fills in missing fields with defaults.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	absStart, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", startDir, err)
	}
	cfg.Root = absStart

	path, data, err := findConfigFile(absStart)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeConfig(cfg, &fileCfg)
	cfg.Root = filepath.Dir(path)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .ideaforge.yaml (max 10 levels).
// Returns os.ErrNotExist if no config file is found.
func findConfigFile(dir string) (string, []byte, error) {
	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return p, data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	if src.Paths.Output != "" {
		dst.Paths.Output = src.Paths.Output
	}

	for _, f := range []struct{ dst, src *string }{
		{&dst.Inputs.Idea, &src.Inputs.Idea},
		{&dst.Inputs.Schema, &src.Inputs.Schema},
		{&dst.Inputs.Tables, &src.Inputs.Tables},
		{&dst.Inputs.Contracts, &src.Inputs.Contracts},
		{&dst.Inputs.Validation, &src.Inputs.Validation},
		{&dst.Inputs.Todo, &src.Inputs.Todo},
		{&dst.Inputs.ContextTree, &src.Inputs.ContextTree},
		{&dst.Inputs.CallGraph, &src.Inputs.CallGraph},
		{&dst.Inputs.DeadCode, &src.Inputs.DeadCode},
		{&dst.Inputs.Signatures, &src.Inputs.Signatures},
		{&dst.Inputs.StructureTemplate, &src.Inputs.StructureTemplate},
	} {
		if *f.src != "" {
			*f.dst = *f.src
		}
	}

	if src.Channel.Engine != "" {
		dst.Channel.Engine = src.Channel.Engine
	}
	if src.Channel.Model != "" {
		dst.Channel.Model = src.Channel.Model
	}
	if src.Channel.Timeout != 0 {
		dst.Channel.Timeout = src.Channel.Timeout
	}
	if src.Channel.Options != nil {
		dst.Channel.Options = src.Channel.Options
	}

	if src.Retry.MaxAttempts != nil {
		dst.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	if src.Retry.MaxChannelFailures != 0 {
		dst.Retry.MaxChannelFailures = src.Retry.MaxChannelFailures
	}

	if src.Batch.Workers != 0 {
		dst.Batch.Workers = src.Batch.Workers
	}

	if src.Artifacts.Blob.AccountURL != "" || src.Artifacts.Blob.Container != "" {
		dst.Artifacts.Blob = src.Artifacts.Blob
	}

	if !src.Hooks.Empty() {
		dst.Hooks = src.Hooks
	}
}

// Resolve returns p relative to the config root. Absolute and empty paths are
// returned unchanged.
func (c *ProjectConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// InputPaths returns the input paths resolved against the config root.
func (c *ProjectConfig) InputPaths() inputs.Paths {
	p := c.Inputs
	for _, s := range []*string{&p.Idea, &p.Schema, &p.Tables, &p.Contracts, &p.Validation, &p.Todo,
		&p.ContextTree, &p.CallGraph, &p.DeadCode, &p.Signatures, &p.StructureTemplate} {
		*s = c.Resolve(*s)
	}
	return p
}

// OutputDir returns the output directory resolved against the config root.
func (c *ProjectConfig) OutputDir() string {
	return c.Resolve(c.Paths.Output)
}

// Limits converts the retry and channel settings into workflow limits.
func (c *ProjectConfig) Limits() workflow.Limits {
	limits := workflow.Limits{
		MaxAttempts:        DefaultMaxAttempts,
		MaxChannelFailures: c.Retry.MaxChannelFailures,
		Timeout:            time.Duration(c.Channel.Timeout) * time.Second,
	}
	if c.Retry.MaxAttempts != nil {
		limits.MaxAttempts = *c.Retry.MaxAttempts
	}
	return limits
}

// ChannelConfig returns the driver configuration for a run in workDir. A mock
// engine script path is resolved against the config root.
func (c *ProjectConfig) ChannelConfig(workDir string) channel.Config {
	opts := c.Channel.Options
	if script, ok := opts["script"].(string); ok && c.Channel.Engine == channel.EngineMock {
		opts = maps.Clone(opts)
		opts["script"] = c.Resolve(script)
	}
	return channel.Config{
		Engine:  c.Channel.Engine,
		Model:   c.Channel.Model,
		WorkDir: workDir,
		Options: opts,
	}
}

func intPtr(i int) *int {
	return &i
}
