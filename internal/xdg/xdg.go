// Package xdg resolves the XDG base directories the harness writes
// state into.
package xdg

import (
	"os"
	"path/filepath"
)

// CacheHome returns the XDG cache base directory.
func CacheHome() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".cache")
}

// AppCacheDir returns the application cache directory, creating it if
// needed.
func AppCacheDir(app string) (string, error) {
	dir := filepath.Join(CacheHome(), app)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
