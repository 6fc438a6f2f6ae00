// Package natsrep streams run reports to a NATS subject.
package natsrep

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/reporter"
	"github.com/pyoor/grizzly/internal/testcase"
)

type natsReporter struct {
	nc      *nats.Conn
	subject string
}

// New creates a NATS reporter publishing to the given subject.
func New(nc *nats.Conn, subject string) reporter.Reporter {
	return &natsReporter{nc: nc, subject: subject}
}

func (r *natsReporter) Submit(_ context.Context, tc *testcase.TestCase, res api.RunResult) error {
	rep := reporter.BuildReport(tc, res)
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("natsrep: marshal report: %w", err)
	}
	if err := r.nc.Publish(r.subject, b); err != nil {
		return fmt.Errorf("natsrep: publish: %w", err)
	}
	return nil
}
