// Package runner composes one serve session with one target process
// instance into a single classified run result. It is the only entry
// point the fuzz, replay and reduction loops use.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/server"
	"github.com/pyoor/grizzly/internal/target"
	"github.com/pyoor/grizzly/internal/testcase"
)

const defaultHealthPoll = 250 * time.Millisecond

// Options control run classification and target reuse.
type Options struct {
	// AcceptPartial treats a clean target exit without all required
	// entries served as no_failure instead of an unusable-test-case
	// error.
	AcceptPartial bool
	// ReportHangs classifies hangs as failures instead of folding them
	// into the ignored count.
	ReportHangs bool
	// Reuse keeps a healthy target running across successive runs.
	Reuse bool
	// RelaunchAfter forces a fresh target instance after this many clean
	// iterations, to bound resource leakage. 0 disables.
	RelaunchAfter int
	// HealthPoll is the interval of the target liveness probe during a
	// run.
	HealthPoll time.Duration

	Ignore IgnorePolicy

	// ServerMap is passed to every session; used for redirect chaining
	// in continuous mode.
	ServerMap *server.ServerMap

	Logger *slog.Logger
}

// Runner drives runs against one server and one target. Run calls on a
// Runner are strictly sequential; it must not be shared between
// goroutines.
type Runner struct {
	server *server.Server
	target target.Target
	opts   Options
	logger *slog.Logger

	sinceLaunch int
}

func New(srv *server.Server, tgt target.Target, opts Options) (*Runner, error) {
	if opts.HealthPoll <= 0 {
		opts.HealthPoll = defaultHealthPoll
	}
	if err := opts.Ignore.Compile(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		server: srv,
		target: tgt,
		opts:   opts,
		logger: logger,
	}, nil
}

// Run serves tc, supervises the target and returns exactly one classified
// result. The target is always left terminal or cleanly reusable,
// never mid-session.
func (r *Runner) Run(ctx context.Context, tc *testcase.TestCase) api.RunResult {
	start := time.Now()
	res := api.RunResult{
		RunID:   uuid.NewString(),
		Status:  api.StatusError,
		Failure: api.FailureNone,
	}
	finish := func(res api.RunResult) api.RunResult {
		res.DurationMs = time.Since(start).Milliseconds()
		res.Attempts = r.target.LaunchCount()
		r.logger.Debug("run finished",
			"run_id", res.RunID, "status", string(res.Status),
			"failure", string(res.Failure), "served_all", res.ServedAll,
			"duration_ms", res.DurationMs)
		return res
	}

	sess, err := r.server.Serve(tc, r.opts.ServerMap)
	if err != nil {
		res.Cause = fmt.Sprintf("serve: %v", err)
		return finish(res)
	}

	if err := r.ensureTarget(ctx, sess.URL()); err != nil {
		sess.Close()
		res.Cause = fmt.Sprintf("target: %v", err)
		return finish(res)
	}
	r.sinceLaunch++

	// race the session against target health under one cancel signal
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		_, _ = sess.Wait(runCtx)
		cancel()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(r.opts.HealthPoll)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-ticker.C:
				if !r.target.IsHealthy() {
					cancel()
					return nil
				}
			}
		}
	})
	_ = g.Wait()

	// the session must never outlive the run
	sess.Close()

	outcome := sess.Outcome()
	res.Outcome = outcome
	res.Served = sess.Served()
	res.ServedAll = outcome == api.OutcomeAllServed

	hint := target.HintNone
	if outcome.TimedOut() {
		hint = target.HintServerTimeout
	}
	kind := r.target.DetectFailure(hint)
	res.Failure = kind

	if kind != api.FailureNone {
		return finish(r.classifyFailure(res, sess.Requests()))
	}

	if err := r.settleTarget(); err != nil {
		res.Cause = fmt.Sprintf("target shutdown: %v", err)
		return finish(res)
	}

	// the exit status is only final once the target is down; a crash
	// landing between session close and shutdown still counts
	if kind := r.target.DetectFailure(target.HintNone); kind != api.FailureNone {
		res.Failure = kind
		return finish(r.classifyFailure(res, sess.Requests()))
	}

	if ctx.Err() != nil {
		r.collectLogs(&res)
		res.Cause = fmt.Sprintf("aborted: %v", ctx.Err())
		return finish(res)
	}

	if res.ServedAll {
		res.Status = api.StatusNoFailure
		return finish(res)
	}
	// clean close without all required entries served: the policy for
	// partial serves is an explicit configuration choice
	if r.opts.AcceptPartial {
		res.Status = api.StatusNoFailure
		return finish(res)
	}
	r.collectLogs(&res)
	res.Cause = fmt.Sprintf("incomplete serve: %s", string(outcome))
	return finish(res)
}

// classifyFailure resolves a detected failure into failure, ignored or
// error, collecting logs first so the ignore patterns can see them.
func (r *Runner) classifyFailure(res api.RunResult, requests int64) api.RunResult {
	_ = r.target.Close(true)
	r.sinceLaunch = 0
	r.collectLogs(&res)

	var logs api.ArtifactSet
	if res.Logs != nil {
		logs = *res.Logs
	}
	if r.opts.Ignore.Match(res.Failure, logs) {
		res.Status = api.StatusIgnored
		return res
	}

	if res.Failure == api.FailureHang {
		switch {
		case r.opts.ReportHangs:
			res.Status = api.StatusFailure
		case requests == 0:
			// a target that never connected is an infrastructure
			// problem, not a finding
			res.Status = api.StatusError
			res.Cause = "target made no requests before the deadline"
		default:
			res.Status = api.StatusIgnored
		}
		return res
	}

	res.Status = api.StatusFailure
	return res
}

// ensureTarget points the target at the session, launching or relaunching
// per the reuse policy.
func (r *Runner) ensureTarget(ctx context.Context, url string) error {
	st := r.target.State()
	if st == target.Running && r.target.IsHealthy() {
		if !r.opts.Reuse {
			// not configured for reuse; start a fresh instance
			r.sinceLaunch = 0
			return r.target.Relaunch(ctx, url)
		}
		if r.opts.RelaunchAfter > 0 && r.sinceLaunch >= r.opts.RelaunchAfter {
			r.logger.Debug("relaunching target", "iterations", r.sinceLaunch)
			r.sinceLaunch = 0
			return r.target.Relaunch(ctx, url)
		}
		return nil
	}
	r.sinceLaunch = 0
	if st == target.Running {
		// alive but unhealthy; a fresh instance is required
		return r.target.Relaunch(ctx, url)
	}
	return r.target.Launch(ctx, url)
}

// settleTarget leaves a non-failed target in a well-defined state: still
// running when reuse allows it, closed otherwise.
func (r *Runner) settleTarget() error {
	if r.opts.Reuse && r.target.IsHealthy() {
		return nil
	}
	return r.target.Close(false)
}

func (r *Runner) collectLogs(res *api.RunResult) {
	if !r.target.State().Terminal() {
		return
	}
	logs, err := r.target.Logs()
	if err != nil || logs.Empty() {
		return
	}
	res.Logs = &logs
}
