// Package target supervises the external process that consumes served
// test cases. A Target owns one process instance at a time: launch,
// liveness, failure classification, teardown and artifact retrieval.
package target

import (
	"context"
	"errors"

	"github.com/pyoor/grizzly/api"
)

// ErrLaunchFailed is returned when a target process cannot be started
// within its startup window.
var ErrLaunchFailed = errors.New("target: launch failed")

// State tracks one process instance. Closed, Crashed and Hung are
// terminal for that instance; a later Launch starts a fresh one.
type State int

const (
	NotStarted State = iota
	Launching
	Running
	Closed
	Crashed
	Hung
)

// Terminal reports whether the current process instance is finished.
func (s State) Terminal() bool {
	return s == Closed || s == Crashed || s == Hung
}

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Launching:
		return "launching"
	case Running:
		return "running"
	case Closed:
		return "closed"
	case Crashed:
		return "crashed"
	case Hung:
		return "hung"
	}
	return "unknown"
}

// Hint carries run context into failure detection, so a target that is
// alive past the serve deadline can be told apart from one that is
// merely slow to finish.
type Hint int

const (
	HintNone Hint = iota
	// HintServerTimeout means the serve session reached its deadline
	// while the target was still expected to make requests.
	HintServerTimeout
)

// Target is the capability the runner supervises a process through.
// Implementations are not safe for concurrent mutation; the runner
// serializes every call except IsHealthy, which must be safe to probe
// while the target runs.
type Target interface {
	// Launch starts a fresh process instance pointed at url.
	Launch(ctx context.Context, url string) error
	// IsHealthy is a non-blocking liveness probe.
	IsHealthy() bool
	// DetectFailure classifies why the process stopped progressing.
	DetectFailure(hint Hint) api.FailureKind
	// Close shuts the process down, forcing after a grace window (or
	// immediately when forced). Idempotent.
	Close(force bool) error
	// Logs returns the captured artifacts of the most recent instance.
	// Valid only once the instance is terminal.
	Logs() (api.ArtifactSet, error)
	// Relaunch tears down the current instance, discards its artifacts
	// and starts a fresh one.
	Relaunch(ctx context.Context, url string) error
	// LaunchCount returns how many instances have been started.
	LaunchCount() int
	// State returns the current instance state.
	State() State
}
