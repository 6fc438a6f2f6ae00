package runner

import (
	"fmt"
	"os"
	"regexp"

	"github.com/pyoor/grizzly/api"
)

// ignoreScanLimit bounds how much of a log tail is scanned per stream.
const ignoreScanLimit = 64 * 1024

// IgnorePolicy decides which detected failures are counted but not
// reported, e.g. a known-benign out-of-memory pattern.
type IgnorePolicy struct {
	// Kinds lists failure kinds ignored outright.
	Kinds []api.FailureKind
	// Patterns are regexes matched against the captured log tails.
	Patterns []string

	compiled []*regexp.Regexp
}

// Compile prepares the pattern list. Must be called before Match.
func (p *IgnorePolicy) Compile() error {
	p.compiled = p.compiled[:0]
	for _, pat := range p.Patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("runner: bad ignore pattern %q: %w", pat, err)
		}
		p.compiled = append(p.compiled, re)
	}
	return nil
}

// Match reports whether the failure should be ignored.
func (p *IgnorePolicy) Match(kind api.FailureKind, logs api.ArtifactSet) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	if len(p.compiled) == 0 || logs.Empty() {
		return false
	}
	for _, path := range []string{logs.Stderr, logs.Stdout} {
		if path == "" {
			continue
		}
		tail, err := readTail(path, ignoreScanLimit)
		if err != nil {
			continue
		}
		for _, re := range p.compiled {
			if re.Match(tail) {
				return true
			}
		}
	}
	return false
}

func readTail(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size > limit {
		if _, err := f.Seek(size-limit, 0); err != nil {
			return nil, err
		}
		size = limit
	}
	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}
