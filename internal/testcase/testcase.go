package testcase

import (
	"fmt"
	"time"
)

// Entry is one named file inside a test case bundle.
type Entry struct {
	Path     string
	Data     []byte
	Required bool
}

// TestCase is an ordered collection of file entries presented to a target
// as one test case. It is constructed once per run attempt and must not be
// mutated after it has been handed to a run.
type TestCase struct {
	entries []Entry
	index   map[string]int

	entryPoint string

	// TimeLimit is the maximum wall-clock duration the target may take to
	// finish consuming the bundle.
	TimeLimit time.Duration
	// IdleLimit, when non-zero, is the maximum gap between successive
	// requests before the session is considered stalled.
	IdleLimit time.Duration
}

// New creates an empty test case with the given entry point path. The
// entry point must be added before the test case is served.
func New(entryPoint string, timeLimit time.Duration) *TestCase {
	return &TestCase{
		index:      make(map[string]int),
		entryPoint: entryPoint,
		TimeLimit:  timeLimit,
	}
}

// Add appends a file entry. Paths must be unique within the bundle.
func (tc *TestCase) Add(path string, data []byte, required bool) error {
	if path == "" {
		return fmt.Errorf("testcase: empty entry path")
	}
	if _, ok := tc.index[path]; ok {
		return fmt.Errorf("testcase: duplicate entry path %q", path)
	}
	tc.index[path] = len(tc.entries)
	tc.entries = append(tc.entries, Entry{Path: path, Data: data, Required: required})
	return nil
}

// AddRequired appends a required file entry.
func (tc *TestCase) AddRequired(path string, data []byte) error {
	return tc.Add(path, data, true)
}

// Validate checks that the bundle is servable: it has at least one entry
// and the entry point names a known entry.
func (tc *TestCase) Validate() error {
	if len(tc.entries) == 0 {
		return fmt.Errorf("testcase: no entries")
	}
	if _, ok := tc.index[tc.entryPoint]; !ok {
		return fmt.Errorf("testcase: entry point %q is not an entry", tc.entryPoint)
	}
	if tc.TimeLimit <= 0 {
		return fmt.Errorf("testcase: time limit must be positive")
	}
	return nil
}

// EntryPoint is the path served as the session's initial document.
func (tc *TestCase) EntryPoint() string {
	return tc.entryPoint
}

// Entry returns the entry with the given path.
func (tc *TestCase) Entry(path string) (Entry, bool) {
	i, ok := tc.index[path]
	if !ok {
		return Entry{}, false
	}
	return tc.entries[i], true
}

// Entries returns a copy of the entries in insertion order.
func (tc *TestCase) Entries() []Entry {
	out := make([]Entry, len(tc.entries))
	copy(out, tc.entries)
	return out
}

// Len returns the number of entries.
func (tc *TestCase) Len() int {
	return len(tc.entries)
}

// RequiredPaths returns the paths of all entries marked required, in order.
func (tc *TestCase) RequiredPaths() []string {
	var out []string
	for _, e := range tc.entries {
		if e.Required {
			out = append(out, e.Path)
		}
	}
	return out
}

// OptionalPaths returns the paths of all entries not marked required.
func (tc *TestCase) OptionalPaths() []string {
	var out []string
	for _, e := range tc.entries {
		if !e.Required {
			out = append(out, e.Path)
		}
	}
	return out
}

// Paths returns every entry path in insertion order.
func (tc *TestCase) Paths() []string {
	out := make([]string, 0, len(tc.entries))
	for _, e := range tc.entries {
		out = append(out, e.Path)
	}
	return out
}
