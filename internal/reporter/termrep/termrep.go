// Package termrep prints run results for a human watching the terminal.
package termrep

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/testcase"
)

type TerminalReporter struct {
	StartedAt time.Time
}

func New() *TerminalReporter { return &TerminalReporter{StartedAt: time.Now()} }

var (
	failureC   = color.New(color.FgRed, color.Bold)
	ignoredC   = color.New(color.FgYellow)
	noFailureC = color.New(color.FgGreen)
	errorC     = color.New(color.FgMagenta)
)

func (t *TerminalReporter) Submit(_ context.Context, tc *testcase.TestCase, res api.RunResult) error {
	c := statusColor(res.Status)
	c.Printf("[%s]", string(res.Status))
	fmt.Printf(" run %s entry=%s", res.RunID, tc.EntryPoint())
	if res.Failure != api.FailureNone {
		fmt.Printf(" failure=%s", string(res.Failure))
	}
	fmt.Printf(" served=%d/%d served_all=%v took=%dms attempts=%d\n",
		len(res.Served), tc.Len(), res.ServedAll, res.DurationMs, res.Attempts)
	if res.Cause != "" {
		fmt.Printf("  cause: %s\n", res.Cause)
	}
	if res.Logs != nil {
		fmt.Printf("  logs: %s\n", res.Logs.Dir)
	}
	return nil
}

func statusColor(s api.Status) *color.Color {
	switch s {
	case api.StatusFailure:
		return failureC
	case api.StatusIgnored:
		return ignoredC
	case api.StatusNoFailure:
		return noFailureC
	default:
		return errorC
	}
}
