package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spboyer/ideaforge/internal/transcript"
	"github.com/spboyer/ideaforge/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_RejectsArgs(t *testing.T) {
	_, err := runCLI(t, "run", "extra")
	assert.Error(t, err)
}

func TestRunCommand_IdeaFlagsAreExclusive(t *testing.T) {
	_, err := runCLI(t, "run", "--idea", "x", "--idea-file", "idea.txt")
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))
}

func TestRunCommand_RetryThenSuccess(t *testing.T) {
	dir := writeProject(t)
	outDir := filepath.Join(dir, "out")
	script := writeScript(t, dir,
		textReply("I forgot the payload."),
		textReply(validManifestReply),
		textReply(filesReply),
	)

	output, err := runCLI(t, "run",
		"--config-dir", dir,
		"--script", script,
		"--output-dir", outDir,
		"--idea", "A habit tracker",
		"--name", "habits",
		"--materialize",
	)
	require.NoError(t, err, output)
	assert.Contains(t, output, "manifest accepted")
	assert.Contains(t, output, "source files captured")
	assert.Contains(t, output, "Retries:    1")

	dirs := runDirs(t, outDir)
	require.Len(t, dirs, 1)
	runDir := dirs[0]
	assert.Contains(t, filepath.Base(runDir), "habits-")

	for _, name := range []string{
		"01_structure.md",
		"01_structure_retry_1.md",
		"02_source_files.md",
		"manifest.json",
		transcript.FileName,
		filepath.Join(materializeDir, "cmd", "habits", "main.go"),
	} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}

	data, err := os.ReadFile(filepath.Join(runDir, "manifest.json"))
	require.NoError(t, err)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, map[string]any{"name": "habits"}, manifest["project"])

	turns, err := transcript.Read(filepath.Join(runDir, transcript.FileName))
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Contains(t, turns[0].Prompt, "A habit tracker")

	src, err := os.ReadFile(filepath.Join(runDir, materializeDir, "cmd", "habits", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(src))
}

func TestRunCommand_IdeaFile(t *testing.T) {
	dir := writeProject(t)
	outDir := filepath.Join(dir, "out")
	ideaFile := writeTestFile(t, dir, "idea.txt", "  A recipe planner \n")
	script := writeScript(t, dir, textReply(validManifestReply), textReply(filesReply))

	output, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", outDir, "--idea-file", ideaFile)
	require.NoError(t, err, output)

	dirs := runDirs(t, outDir)
	require.Len(t, dirs, 1)
	assert.Contains(t, filepath.Base(dirs[0]), defaultRunName+"-")

	turns, err := transcript.Read(filepath.Join(dirs[0], transcript.FileName))
	require.NoError(t, err)
	require.NotEmpty(t, turns)
	assert.Contains(t, turns[0].Prompt, "A recipe planner")
}

func TestRunCommand_RetryBudgetExhausted(t *testing.T) {
	dir := writeProject(t)
	outDir := filepath.Join(dir, "out")
	script := writeScript(t, dir,
		textReply("no payload"),
		textReply("still no payload"),
		textReply("nope"),
	)

	output, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", outDir,
		"--idea", "x", "--max-attempts", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailed, exitCode(err))

	reason, ok := workflow.AbortReason(err)
	require.True(t, ok)
	assert.Equal(t, workflow.ReasonRetryBudget, reason)
	assert.Contains(t, err.Error(), string(workflow.ReasonRetryBudget))
	assert.Contains(t, output, "Partial artifacts")

	dirs := runDirs(t, outDir)
	require.Len(t, dirs, 1)
	assert.NoFileExists(t, filepath.Join(dirs[0], "manifest.json"))
	turns, err := transcript.Read(filepath.Join(dirs[0], transcript.FileName))
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestRunCommand_AgentNeverResponds(t *testing.T) {
	dir := writeProject(t)
	script := writeScript(t, dir, "timeout: true")

	_, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", filepath.Join(dir, "out"),
		"--idea", "x", "--max-channel-failures", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailed, exitCode(err))

	reason, _ := workflow.AbortReason(err)
	assert.Equal(t, workflow.ReasonChannel, reason)
}

func TestRunCommand_MissingInputIsConfigError(t *testing.T) {
	dir := writeProject(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "TODO.md")))
	outDir := filepath.Join(dir, "out")
	script := writeScript(t, dir, textReply(validManifestReply))

	_, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", outDir, "--idea", "x")
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))
	assert.Contains(t, err.Error(), "todo")
	assert.Empty(t, runDirs(t, outDir), "nothing is written before the agent is contacted")
}

func TestRunCommand_MissingIdea(t *testing.T) {
	dir := writeProject(t)
	script := writeScript(t, dir, textReply(validManifestReply))

	_, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))

	reason, _ := workflow.AbortReason(err)
	assert.Equal(t, workflow.ReasonInputMissing, reason)
}

func TestRunCommand_UnknownEngine(t *testing.T) {
	dir := writeProject(t)

	outDir := filepath.Join(dir, "out")
	_, err := runCLI(t, "run", "--config-dir", dir, "--engine", "telepathy", "--output-dir", outDir, "--idea", "x")
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))
	assert.Contains(t, err.Error(), "unknown engine")
	assert.Empty(t, runDirs(t, outDir), "no run directory is left behind")
}

func TestRunCommand_ConfigFile(t *testing.T) {
	dir := writeProject(t)
	writeScript(t, dir, textReply(validManifestReply), textReply(filesReply))
	writeTestFile(t, dir, ".ideaforge.yaml", `paths:
  output: runs
inputs:
  idea: idea.txt
channel:
  engine: mock
  options:
    script: script.yaml
`)
	writeTestFile(t, dir, "idea.txt", "A config driven idea")

	output, err := runCLI(t, "run", "--config-dir", dir)
	require.NoError(t, err, output)
	assert.Len(t, runDirs(t, filepath.Join(dir, "runs")), 1)
}

func TestRunCommand_Hooks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses touch and false")
	}

	dir := writeProject(t)
	script := writeScript(t, dir, textReply(validManifestReply), textReply(filesReply))

	t.Run("after_run runs in the run directory", func(t *testing.T) {
		outDir := filepath.Join(t.TempDir(), "out")
		writeTestFile(t, dir, ".ideaforge.yaml", `hooks:
  before_run:
    - command: touch before.txt
  after_run:
    - command: touch built.txt
      working_directory: files
      error_on_fail: true
`)
		output, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", outDir, "--idea", "x", "--materialize")
		require.NoError(t, err, output)

		dirs := runDirs(t, outDir)
		require.Len(t, dirs, 1)
		assert.FileExists(t, filepath.Join(dirs[0], "before.txt"))
		assert.FileExists(t, filepath.Join(dirs[0], materializeDir, "built.txt"))
	})

	t.Run("failing before_run stops the run", func(t *testing.T) {
		outDir := filepath.Join(t.TempDir(), "out")
		writeTestFile(t, dir, ".ideaforge.yaml", `hooks:
  before_run:
    - command: "false"
      error_on_fail: true
`)
		_, err := runCLI(t, "run", "--config-dir", dir, "--script", script, "--output-dir", outDir, "--idea", "x")
		require.Error(t, err)
		assert.Equal(t, ExitFailed, exitCode(err))
		assert.Contains(t, err.Error(), "before_run hook")

		dirs := runDirs(t, outDir)
		require.Len(t, dirs, 1)
		assert.NoFileExists(t, filepath.Join(dirs[0], "manifest.json"))
	})
}
