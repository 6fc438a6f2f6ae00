package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/pyoor/grizzly/internal/xdg"
)

const (
	appName    = "grizzly"
	filePrefix = "status-"
	fileSuffix = ".json"
)

// Store publishes one instance's counters to a per-PID file in the
// shared status directory. Every read-modify-write holds a file-level
// advisory lock.
type Store struct {
	counters *Counters
	path     string
	lock     *flock.Flock
	pid      int
}

// NewStore creates the shared status file for this process.
func NewStore(counters *Counters) (*Store, error) {
	dir, err := xdg.AppCacheDir(appName)
	if err != nil {
		return nil, fmt.Errorf("status: cache dir: %w", err)
	}
	pid := os.Getpid()
	path := filepath.Join(dir, fmt.Sprintf("%s%d%s", filePrefix, pid, fileSuffix))
	return &Store{
		counters: counters,
		path:     path,
		lock:     flock.New(path + ".lock"),
		pid:      pid,
	}, nil
}

// Publish writes the current counter snapshot under the advisory lock.
func (s *Store) Publish() error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("status: lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	b, err := json.Marshal(s.counters.snapshot(s.pid))
	if err != nil {
		return fmt.Errorf("status: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("status: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("status: publish: %w", err)
	}
	return nil
}

// Close removes this instance's status file. The lock file stays
// behind: another process may be blocked on that very path, and ReadAll
// skips names without the status suffix.
func (s *Store) Close() error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = s.lock.Unlock() }()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadAll aggregates the snapshots of every instance on this host.
func ReadAll() ([]Snapshot, error) {
	dir, err := xdg.AppCacheDir(appName)
	if err != nil {
		return nil, fmt.Errorf("status: cache dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("status: read dir: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		path := filepath.Join(dir, name)
		lock := flock.New(path + ".lock")
		if err := lock.Lock(); err != nil {
			continue
		}
		b, err := os.ReadFile(path)
		_ = lock.Unlock()
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			// stale or partially written entry
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}
