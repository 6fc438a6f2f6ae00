// Package status tracks campaign counters and shares them across
// harness processes through locked files, so a separate status command
// can aggregate every instance running on the host.
package status

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pyoor/grizzly/api"
)

// Counters are the in-process campaign counters. Safe for concurrent
// use.
type Counters struct {
	startedAt time.Time

	iterations *xsync.Counter
	results    *xsync.Counter
	ignored    *xsync.Counter
	errors     *xsync.Counter
}

func NewCounters() *Counters {
	return &Counters{
		startedAt:  time.Now(),
		iterations: xsync.NewCounter(),
		results:    xsync.NewCounter(),
		ignored:    xsync.NewCounter(),
		errors:     xsync.NewCounter(),
	}
}

// Record counts one run result.
func (c *Counters) Record(res api.RunResult) {
	c.iterations.Inc()
	switch res.Status {
	case api.StatusFailure:
		c.results.Inc()
	case api.StatusIgnored:
		c.ignored.Inc()
	case api.StatusError:
		c.errors.Inc()
	}
}

// Snapshot is the serializable view of one harness instance's counters.
type Snapshot struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Iterations int64 `json:"iterations"`
	Results    int64 `json:"results"`
	Ignored    int64 `json:"ignored"`
	Errors     int64 `json:"errors"`
}

// Rate returns iterations per minute since the instance started.
func (s Snapshot) Rate() float64 {
	mins := s.UpdatedAt.Sub(s.StartedAt).Minutes()
	if mins <= 0 {
		return 0
	}
	return float64(s.Iterations) / mins
}

func (c *Counters) snapshot(pid int) Snapshot {
	return Snapshot{
		PID:        pid,
		StartedAt:  c.startedAt,
		UpdatedAt:  time.Now(),
		Iterations: c.iterations.Value(),
		Results:    c.results.Value(),
		Ignored:    c.ignored.Value(),
		Errors:     c.errors.Value(),
	}
}
