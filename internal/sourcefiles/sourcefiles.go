// Package sourcefiles turns a captured Stage 2 response into files on disk.
//
// Each file arrives as a fenced code block whose first line is a
// "<!-- filepath: relative/path -->" marker, with the code wrapped in //START and
// //DONE lines. Blocks that do not follow that shape are skipped with a warning;
// the capture itself is never rejected.
package sourcefiles

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spboyer/ideaforge/internal/extract"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markerRE = regexp.MustCompile(`^\s*<!--\s*filepath:\s*(.+?)\s*-->\s*$`)

// File is one generated source file.
type File struct {
	Path     string
	Language string
	Content  string
}

// Split extracts every marked file from capture, in order. When a path appears
// twice the later block wins.
func Split(capture string) ([]File, []string) {
	source := []byte(capture)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var (
		files    []File
		warnings []string
		index    = map[string]int{}
		block    int
	)

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		block++

		f, err := parseBlock(fenced, source)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("code block %d: %v", block, err))
			return ast.WalkSkipChildren, nil
		}
		if i, dup := index[f.Path]; dup {
			warnings = append(warnings, fmt.Sprintf("code block %d: %s repeats an earlier block", block, f.Path))
			files[i] = f
			return ast.WalkSkipChildren, nil
		}
		index[f.Path] = len(files)
		files = append(files, f)
		return ast.WalkSkipChildren, nil
	})

	return files, warnings
}

func parseBlock(fenced *ast.FencedCodeBlock, source []byte) (File, error) {
	lines := strings.Split(extract.BlockText(fenced, source), "\n")

	first := 0
	for first < len(lines) && strings.TrimSpace(lines[first]) == "" {
		first++
	}
	if first == len(lines) {
		return File{}, fmt.Errorf("empty")
	}

	m := markerRE.FindStringSubmatch(lines[first])
	if m == nil {
		return File{}, fmt.Errorf("no filepath marker")
	}
	path := filepath.ToSlash(filepath.Clean(m[1]))

	var body []string
	for _, line := range lines[first+1:] {
		switch strings.TrimSpace(line) {
		case "//START", "//DONE":
			continue
		}
		body = append(body, line)
	}

	content := strings.Trim(strings.Join(body, "\n"), "\n")
	if content != "" {
		content += "\n"
	}

	return File{Path: path, Language: string(fenced.Language(source)), Content: content}, nil
}

// Write creates files below dir and returns the paths written. Absolute paths
// and paths that resolve outside dir are rejected before anything is written.
func Write(dir string, files []File) ([]string, error) {
	for _, f := range files {
		if err := validatePathInDir(dir, f.Path); err != nil {
			return nil, err
		}
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		dest := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.Path, err)
		}
		written = append(written, dest)
	}
	return written, nil
}

// validatePathInDir resolves relPath against dir and returns an error if the
// result escapes dir.
func validatePathInDir(dir, relPath string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve output dir: %w", err)
	}

	if filepath.IsAbs(relPath) || strings.HasPrefix(relPath, "/") {
		return fmt.Errorf("path %q is absolute and not relative to %q", relPath, absDir)
	}

	absFull, err := filepath.Abs(filepath.Join(absDir, filepath.FromSlash(relPath)))
	if err != nil {
		return fmt.Errorf("failed to resolve path %q: %w", relPath, err)
	}

	// The trailing separator prevents "/out-foo" matching "/out".
	if !strings.HasPrefix(absFull, absDir+string(filepath.Separator)) {
		return fmt.Errorf("path %q resolves to %q which is outside %q", relPath, absFull, absDir)
	}
	return nil
}
