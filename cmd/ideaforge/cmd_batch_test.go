package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spboyer/ideaforge/internal/batch"
	"github.com/spboyer/ideaforge/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCommand_RunsEveryIdea(t *testing.T) {
	dir := writeProject(t)
	outDir := filepath.Join(dir, "out")
	script := writeScript(t, dir, textReply(validManifestReply), textReply(filesReply))
	ideas := writeTestFile(t, dir, "ideas.yaml", `ideas:
  - name: habits
    idea: A habit tracker
  - name: recipes
    idea: A recipe planner
  - idea: A reading list
`)

	output, err := runCLI(t, "batch", ideas, "--config-dir", dir, "--script", script, "--output-dir", outDir, "--workers", "2")
	require.NoError(t, err, output)
	assert.Contains(t, output, "BATCH RESULTS")
	assert.Contains(t, output, "Total: 3  Done: 3  Aborted: 0  Errors: 0")
	assert.Contains(t, output, "[recipes] ✓ stage 1 (structure): manifest accepted")
	assert.Len(t, runDirs(t, outDir), 3)
}

func TestBatchCommand_CollidingNamesGetOwnDirs(t *testing.T) {
	dir := writeProject(t)
	outDir := filepath.Join(dir, "out")
	script := writeScript(t, dir, textReply(validManifestReply), textReply(filesReply))
	ideas := writeTestFile(t, dir, "ideas.yaml", `ideas:
  - name: Habit Tracker
    idea: A habit tracker
  - name: habit-tracker
    idea: Another habit tracker
  - name: 习惯
    idea: A third one
  - name: 食谱
    idea: A recipe planner
`)

	output, err := runCLI(t, "batch", ideas, "--config-dir", dir, "--script", script, "--output-dir", outDir, "--workers", "4")
	require.NoError(t, err, output)

	dirs := runDirs(t, outDir)
	require.Len(t, dirs, 4)
	for _, d := range dirs {
		assert.FileExists(t, filepath.Join(d, "manifest.json"))
		data, err := os.ReadFile(filepath.Join(d, "transcript.jsonl"))
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(string(data), "\n"), "one transcript line per turn in %s", d)
	}
}

func TestBatchCommand_FailuresAreReported(t *testing.T) {
	dir := writeProject(t)
	script := writeScript(t, dir, textReply("no payload"))
	ideas := writeTestFile(t, dir, "ideas.yaml", "ideas:\n  - idea: one\n  - idea: two\n")

	output, err := runCLI(t, "batch", ideas, "--config-dir", dir, "--script", script,
		"--output-dir", filepath.Join(dir, "out"), "--max-channel-failures", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailed, exitCode(err))
	assert.Contains(t, err.Error(), "2 of 2 idea(s) did not complete")
	assert.Contains(t, output, string(workflow.ReasonChannel))
}

func TestBatchCommand_BadIdeasFile(t *testing.T) {
	dir := writeProject(t)
	ideas := writeTestFile(t, dir, "ideas.yaml", "ideas: []\n")

	_, err := runCLI(t, "batch", ideas, "--config-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))
}

func TestPrintBatchSummary_AlignsWideNames(t *testing.T) {
	outcomes := []batch.Outcome{
		{Job: batch.Job{Name: "習慣トラッカー"}, Result: &workflow.Result{Retries: 2}},
		{Job: batch.Job{Name: "plain"}, Err: &workflow.AbortError{Reason: workflow.ReasonRetryBudget}},
	}

	var buf strings.Builder
	printBatchSummary(&buf, outcomes, []string{"/runs/a", ""})

	s := buf.String()
	assert.Contains(t, s, "習慣トラッカー")
	assert.Contains(t, s, "✗ "+string(workflow.ReasonRetryBudget))
	assert.Contains(t, s, "Total: 2  Done: 1  Aborted: 1  Errors: 0")
}

func TestTruncateName(t *testing.T) {
	assert.Equal(t, "short", truncateName("short", 10))
	got := truncateName("a-very-long-idea-name", 8)
	assert.Equal(t, 8, len([]rune(got)))
	assert.Equal(t, "…", string([]rune(got)[7:]))
}
