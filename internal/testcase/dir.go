package testcase

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// LoadFromDir reads a directory tree into a test case. Every file found is
// marked required; the entry point must be one of them. Paths are stored
// relative to dir with forward slashes.
func LoadFromDir(dir string, entryPoint string, timeLimit time.Duration) (*TestCase, error) {
	tc := New(entryPoint, timeLimit)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		return tc.AddRequired(filepath.ToSlash(rel), data)
	})
	if err != nil {
		return nil, fmt.Errorf("testcase: load %s: %w", dir, err)
	}

	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

// WriteTo persists the bundle under dir, creating subdirectories as needed.
// Used to retain a failing test case as an artifact.
func (tc *TestCase) WriteTo(dir string) error {
	for _, e := range tc.entries {
		dst := filepath.Join(dir, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("testcase: write %s: %w", e.Path, err)
		}
		if err := os.WriteFile(dst, e.Data, 0644); err != nil {
			return fmt.Errorf("testcase: write %s: %w", e.Path, err)
		}
	}
	return nil
}
