package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	dir := writeProject(t)
	schema := filepath.Join(dir, "guardrails", "project-manifest-schema.json")

	tests := []struct {
		name     string
		manifest string
		wantCode int
		wantOut  string
	}{
		{"valid", `{"project": {"name": "habits"}}`, ExitSuccess, "is valid"},
		{"missing name", `{"project": {}}`, ExitFailed, "violation(s)"},
		{"not json", `{"project": `, ExitFailed, "JSON parse error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest := writeTestFile(t, t.TempDir(), "manifest.json", tt.manifest)
			output, err := runCLI(t, "validate", manifest, "--schema", schema)
			assert.Equal(t, tt.wantCode, exitCode(err))
			assert.Contains(t, output, tt.wantOut)
		})
	}
}

func TestValidateCommand_MissingManifest(t *testing.T) {
	dir := writeProject(t)
	schema := filepath.Join(dir, "guardrails", "project-manifest-schema.json")

	_, err := runCLI(t, "validate", filepath.Join(dir, "nope.json"), "--schema", schema)
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))
}

func TestValidateCommand_BadSchema(t *testing.T) {
	dir := t.TempDir()
	schema := writeTestFile(t, dir, "schema.json", `{"type": 12}`)
	manifest := writeTestFile(t, dir, "manifest.json", `{}`)

	_, err := runCLI(t, "validate", manifest, "--schema", schema)
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))
}
