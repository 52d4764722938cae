package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["project"],
  "properties": {
    "project": {
      "type": "object",
      "required": ["name"],
      "properties": {"name": {"type": "string"}}
    }
  }
}`

const testTodo = `# TODO

## AI coding TODO list
- [ ] build it
`

const validManifestReply = "Tables first.\n\n```json\n{\"project\": {\"name\": \"habits\"}}\n```\n"

const filesReply = "```go\n<!-- filepath: cmd/habits/main.go -->\n//START\npackage main\n\nfunc main() {}\n//DONE\n```\n"

// writeProject lays out every required input in the default locations below a
// fresh directory and returns it.
func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"guardrails/project-manifest-schema.json": testSchema,
		"guardrails/implementation-tables.md":     "| table |",
		"guardrails/output-contracts.md":          "contracts",
		"guardrails/validation.md":                "validation rules",
		"TODO.md":                                 testTodo,
		"context/file-tree.txt":                   "main.go\n",
		"context/call-graph.json":                 `{}`,
		"context/dead-code.json":                  `[]`,
		"context/signatures.csv":                  "func,main",
	}
	for name, body := range files {
		writeTestFile(t, dir, name, body)
	}
	return dir
}

func writeTestFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// writeScript writes a mock engine script. Each reply is a YAML mapping body.
func writeScript(t *testing.T, dir string, replies ...string) string {
	t.Helper()
	var b strings.Builder
	for _, r := range replies {
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(r, "\n", "\n  "))
		b.WriteString("\n")
	}
	return writeTestFile(t, dir, "script.yaml", b.String())
}

// textReply renders a scripted reply with a literal block.
func textReply(text string) string {
	return "text: |\n  " + strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\n  ")
}

// runCLI executes the root command with args and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	err := cmd.Execute()
	return out.String(), err
}

// runDirs returns the run directories created below outDir.
func runDirs(t *testing.T, outDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(outDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(outDir, e.Name()))
		}
	}
	return dirs
}
