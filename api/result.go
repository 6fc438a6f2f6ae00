package api

// Status is the overall verdict of a single run.
type Status string

const (
	// StatusNoFailure means the session closed cleanly and the target
	// stayed healthy.
	StatusNoFailure Status = "no_failure"
	// StatusFailure means the target crashed or hung in a reportable way.
	StatusFailure Status = "failure"
	// StatusIgnored means the target failed but the failure matched the
	// configured ignore policy. Counted separately from no_failure.
	StatusIgnored Status = "ignored"
	// StatusError means the run could not be completed for infrastructure
	// reasons. It says nothing about the test case itself.
	StatusError Status = "error"
)

// FailureKind classifies why a target stopped progressing.
type FailureKind string

const (
	FailureNone  FailureKind = "none"
	FailureCrash FailureKind = "crash"
	FailureHang  FailureKind = "hang"
	FailureOOM   FailureKind = "oom"
)

// SessionOutcome is the terminal state of one serving session.
type SessionOutcome string

const (
	// OutcomeAllServed means every required entry was requested.
	OutcomeAllServed SessionOutcome = "all_served"
	// OutcomePartial means some but not all required entries were requested.
	OutcomePartial SessionOutcome = "partial"
	// OutcomeNoneServed means the consumer never requested anything.
	OutcomeNoneServed SessionOutcome = "none_served"
	// OutcomeTimedOut means the session deadline elapsed.
	OutcomeTimedOut SessionOutcome = "timed_out"
	// OutcomeIdleTimedOut means the gap between requests exceeded the
	// idle limit.
	OutcomeIdleTimedOut SessionOutcome = "idle_timed_out"
)

// Terminal reports whether the outcome ends a session.
func (o SessionOutcome) Terminal() bool {
	return o != ""
}

// TimedOut reports whether the outcome was caused by a deadline.
func (o SessionOutcome) TimedOut() bool {
	return o == OutcomeTimedOut || o == OutcomeIdleTimedOut
}

// ArtifactSet points at the captured logs of one target process instance.
// Ownership transfers to the caller once the run that produced it returns.
type ArtifactSet struct {
	Dir    string   `json:"dir"`
	Stdout string   `json:"stdout"`
	Stderr string   `json:"stderr"`
	Extra  []string `json:"extra,omitempty"`
}

// Empty reports whether any artifacts were captured.
func (a ArtifactSet) Empty() bool {
	return a.Dir == ""
}

// RunResult is produced exactly once per run. It is immutable after the
// run returns.
type RunResult struct {
	RunID string `json:"run_id"`

	Status  Status      `json:"status"`
	Failure FailureKind `json:"failure"`

	Outcome   SessionOutcome `json:"outcome"`
	ServedAll bool           `json:"served_all"`
	Served    []string       `json:"served"`

	DurationMs int64 `json:"duration_ms"`
	// Attempts is the target launch count consumed so far.
	Attempts int `json:"attempts"`

	Logs *ArtifactSet `json:"logs,omitempty"`

	// Cause is only set for status == error.
	Cause string `json:"cause,omitempty"`
}
