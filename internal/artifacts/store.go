// Package artifacts persists what a run exchanged: one file per response, the
// transcript, the accepted manifest and the Stage 2 capture.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store writes named artifacts.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
}

// DirStore writes artifacts as files under a directory.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed and returns a store rooted there.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// maxRunDirSuffix bounds the search for a free run directory name.
const maxRunDirSuffix = 1000

// CreateRunDir creates a new directory named base under parent and returns its
// path. When base is taken, "-2", "-3" and so on are appended until a name is
// free. Creation is exclusive, so concurrent runs never share a directory.
func CreateRunDir(parent, base string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	for i := 1; i <= maxRunDirSuffix; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		dir := filepath.Join(parent, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
	}
	return "", fmt.Errorf("creating run directory: no free name for %q in %s", base, parent)
}

// Dir returns the root directory.
func (s *DirStore) Dir() string {
	return s.dir
}

// Put writes data to a temporary file and renames it into place, so a reader
// never sees a half-written artifact.
func (s *DirStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid artifact name %q", name)
	}

	dest := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(name)+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
