package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// tempSuffix marks the staging files WriteFile leaves behind when the process
// dies mid-download.
const tempSuffix = ".drain-tmp"

// LocalMirror writes downloaded objects below a root directory, using the
// object key as the relative path.
type LocalMirror struct {
	rootPath string
}

func NewLocalMirror(rootPath string) (*LocalMirror, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve local root %s: %w", rootPath, err)
	}

	m := &LocalMirror{rootPath: absPath}
	if err := m.CheckRoot(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LocalMirror) Root() string {
	return m.rootPath
}

// CheckRoot creates the root when missing and fails when it cannot be used
// as a directory.
func (m *LocalMirror) CheckRoot() error {
	if err := os.MkdirAll(m.rootPath, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	fi, err := os.Stat(m.rootPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, m.rootPath)
	}
	return nil
}

// Path maps a slash-delimited key to its location under the root. Only keys
// that are already in clean relative form are accepted, so two distinct keys
// never share a local path.
func (m *LocalMirror) Path(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || path.Clean(rel) != rel {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, rel)
	}
	if filepath.Separator != '/' && strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, rel)
	}

	fullPath := filepath.Join(m.rootPath, filepath.FromSlash(rel))

	relPath, err := filepath.Rel(m.rootPath, fullPath)
	if err != nil {
		return "", err
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}

	return fullPath, nil
}

func (m *LocalMirror) EnsureDir(rel string) error {
	fullPath, err := m.Path(rel)
	if err != nil {
		return err
	}
	if err := m.CheckRoot(); err != nil {
		return err
	}
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", fullPath, err)
	}
	return nil
}

// WriteFile stages the content in a temporary file next to the destination
// and renames it into place once fill succeeds. An existing file is
// replaced.
func (m *LocalMirror) WriteFile(rel string, fill func(w io.WriterAt) error) error {
	fullPath, err := m.Path(rel)
	if err != nil {
		return err
	}
	if err := m.CheckRoot(); err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tempPath := tempFile.Name()

	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	if err := fill(tempFile); err != nil {
		return err
	}

	if err := tempFile.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tempPath, err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		return fmt.Errorf("rename into %s: %w", fullPath, err)
	}
	return nil
}

// RemoveStale deletes staging files left below the root by an earlier run
// and returns how many were removed.
func (m *LocalMirror) RemoveStale() (int, error) {
	removed := 0
	err := filepath.WalkDir(m.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !isTempName(d.Name()) {
			return nil
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale file %s: %w", p, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep %s: %w", m.rootPath, err)
	}
	return removed, nil
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix) && len(name) > len(tempSuffix)+1
}

var _ Local = (*LocalMirror)(nil)
