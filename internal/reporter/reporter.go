// Package reporter ships classified run results to pluggable sinks.
package reporter

import (
	"context"
	"os"
	"strings"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/testcase"
)

// Reporter accepts one result per run. Implementations must not mutate
// the test case or result.
type Reporter interface {
	Submit(ctx context.Context, tc *testcase.TestCase, res api.RunResult) error
}

// BuildReport assembles the sink envelope, attaching trimmed log tails.
func BuildReport(tc *testcase.TestCase, res api.RunResult) api.Report {
	rep := api.NewReport(res, tc.EntryPoint(), tc.Paths())
	if res.Logs != nil {
		rep.StdoutTail = logTail(res.Logs.Stdout)
		rep.StderrTail = logTail(res.Logs.Stderr)
	}
	return rep
}

func logTail(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return trimToRect(string(data), api.MaxLogExcerptHeight, api.MaxLogExcerptWidth)
}

// trimToRect bounds a string to maxHeight lines of maxWidth characters,
// keeping the tail and marking elisions.
func trimToRect(s string, maxHeight, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > maxHeight {
		lines = append([]string{"[...]"}, lines[len(lines)-maxHeight:]...)
	}
	for i, line := range lines {
		if runes := []rune(line); len(runes) > maxWidth {
			lines[i] = string(runes[:maxWidth]) + "[...]"
		}
	}
	return strings.Join(lines, "\n")
}
