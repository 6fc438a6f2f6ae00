package runner_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/runner"
	"github.com/pyoor/grizzly/internal/server"
	"github.com/pyoor/grizzly/internal/target"
	"github.com/pyoor/grizzly/internal/testcase"
)

func newBundle(t *testing.T, timeLimit time.Duration, paths ...string) *testcase.TestCase {
	t.Helper()
	tc := testcase.New(paths[0], timeLimit)
	for _, p := range paths {
		require.NoError(t, tc.AddRequired(p, []byte("data for "+p)))
	}
	return tc
}

func newRunner(t *testing.T, tgt target.Target, opts runner.Options) *runner.Runner {
	t.Helper()
	srv, err := server.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	if opts.HealthPoll == 0 {
		opts.HealthPoll = 50 * time.Millisecond
	}
	run, err := runner.New(srv, tgt, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tgt.Close(true) })
	return run
}

// fetch requests one path relative to the session URL, ignoring errors.
func fetch(url string) {
	resp, err := http.Get(url)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func TestRunCleanServeAll(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(_ context.Context, url string) api.FailureKind {
			fetch(url)
			return api.FailureNone
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html"))
	require.Equal(t, api.StatusNoFailure, res.Status)
	require.Equal(t, api.FailureNone, res.Failure)
	require.Equal(t, api.OutcomeAllServed, res.Outcome)
	require.True(t, res.ServedAll)
	require.Equal(t, []string{"test.html"}, res.Served)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, target.Closed, tgt.State(), "no reuse: target closed after the run")
}

func TestRunCrashMidBundle(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(_ context.Context, url string) api.FailureKind {
			fetch(url)
			return api.FailureCrash
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html", "never.js"))
	require.Equal(t, api.StatusFailure, res.Status)
	require.Equal(t, api.FailureCrash, res.Failure)
	require.Equal(t, api.OutcomePartial, res.Outcome)
	require.False(t, res.ServedAll)
	require.Equal(t, []string{"test.html"}, res.Served)
}

func TestRunCrashShortlyAfterServeAll(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(_ context.Context, url string) api.FailureKind {
			fetch(url)
			time.Sleep(200 * time.Millisecond)
			return api.FailureCrash
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html"))
	require.Equal(t, api.StatusFailure, res.Status,
		"a crash after the session closed is still a finding")
	require.Equal(t, api.FailureCrash, res.Failure)
	require.Equal(t, api.OutcomeAllServed, res.Outcome)
	require.True(t, res.ServedAll)
}

func TestRunHangIgnoredByDefault(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(ctx context.Context, url string) api.FailureKind {
			fetch(url)
			<-ctx.Done()
			return api.FailureHang
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 300*time.Millisecond, "test.html", "never.js"))
	require.Equal(t, api.StatusIgnored, res.Status)
	require.Equal(t, api.FailureHang, res.Failure)
	require.True(t, res.Outcome.TimedOut())
}

func TestRunHangReported(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(ctx context.Context, url string) api.FailureKind {
			fetch(url)
			<-ctx.Done()
			return api.FailureHang
		},
	}
	run := newRunner(t, tgt, runner.Options{ReportHangs: true})

	res := run.Run(context.Background(), newBundle(t, 300*time.Millisecond, "test.html", "never.js"))
	require.Equal(t, api.StatusFailure, res.Status)
	require.Equal(t, api.FailureHang, res.Failure)
}

func TestRunHangWithoutRequestsIsError(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(ctx context.Context, _ string) api.FailureKind {
			<-ctx.Done()
			return api.FailureHang
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 300*time.Millisecond, "test.html"))
	require.Equal(t, api.StatusError, res.Status)
	require.Contains(t, res.Cause, "no requests")
	require.GreaterOrEqual(t, res.DurationMs, int64(300), "bounded by the session deadline")
}

func TestRunPartialServeIsErrorByDefault(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(_ context.Context, url string) api.FailureKind {
			fetch(url)
			return api.FailureNone
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html", "never.js"))
	require.Equal(t, api.StatusError, res.Status)
	require.Equal(t, api.FailureNone, res.Failure)
	require.Equal(t, api.OutcomePartial, res.Outcome)
	require.Contains(t, res.Cause, "incomplete serve")
}

func TestRunPartialServeAccepted(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(_ context.Context, url string) api.FailureKind {
			fetch(url)
			return api.FailureNone
		},
	}
	run := newRunner(t, tgt, runner.Options{AcceptPartial: true})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html", "never.js"))
	require.Equal(t, api.StatusNoFailure, res.Status)
	require.False(t, res.ServedAll)
}

func TestRunIgnoredKind(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(_ context.Context, url string) api.FailureKind {
			fetch(url)
			return api.FailureOOM
		},
	}
	run := newRunner(t, tgt, runner.Options{
		Ignore: runner.IgnorePolicy{Kinds: []api.FailureKind{api.FailureOOM}},
	})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html", "never.js"))
	require.Equal(t, api.StatusIgnored, res.Status)
	require.Equal(t, api.FailureOOM, res.Failure)
}

// loopFetcher keeps re-requesting the entry point until torn down, the
// way a reused browser instance keeps following the harness.
func loopFetcher(ctx context.Context, url string) api.FailureKind {
	for {
		select {
		case <-ctx.Done():
			return api.FailureNone
		case <-time.After(10 * time.Millisecond):
		}
		fetch(url)
	}
}

func TestRunReuseKeepsTarget(t *testing.T) {
	tgt := &target.StubTarget{Script: loopFetcher}
	run := newRunner(t, tgt, runner.Options{Reuse: true})

	tc := newBundle(t, 5*time.Second, "test.html")
	for i := 0; i < 3; i++ {
		res := run.Run(context.Background(), tc)
		require.Equal(t, api.StatusNoFailure, res.Status)
	}
	require.Equal(t, 1, tgt.LaunchCount())
	require.Equal(t, target.Running, tgt.State())
}

func TestRunRelaunchAfterThreshold(t *testing.T) {
	tgt := &target.StubTarget{Script: loopFetcher}
	run := newRunner(t, tgt, runner.Options{Reuse: true, RelaunchAfter: 1})

	tc := newBundle(t, 5*time.Second, "test.html")
	for i := 0; i < 2; i++ {
		res := run.Run(context.Background(), tc)
		require.Equal(t, api.StatusNoFailure, res.Status)
	}
	require.Equal(t, 2, tgt.LaunchCount(), "second run forces a fresh instance")
}

func TestRunNoReuseRelaunchesEachRun(t *testing.T) {
	tgt := &target.StubTarget{Script: loopFetcher}
	run := newRunner(t, tgt, runner.Options{Reuse: false})

	tc := newBundle(t, 5*time.Second, "test.html")
	for i := 0; i < 2; i++ {
		res := run.Run(context.Background(), tc)
		require.Equal(t, api.StatusNoFailure, res.Status)
	}
	require.Equal(t, 2, tgt.LaunchCount())
}

func TestRunLaunchFailureIsError(t *testing.T) {
	tgt, err := target.NewProcess(target.Config{Binary: "/nonexistent/definitely-not-here"}, nil)
	require.NoError(t, err)
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), newBundle(t, 5*time.Second, "test.html"))
	require.Equal(t, api.StatusError, res.Status)
	require.Contains(t, res.Cause, "target")
}

func TestRunInvalidBundleIsError(t *testing.T) {
	tgt := &target.StubTarget{}
	run := newRunner(t, tgt, runner.Options{})

	res := run.Run(context.Background(), testcase.New("index.html", time.Second))
	require.Equal(t, api.StatusError, res.Status)
	require.Contains(t, res.Cause, "serve")
}

func TestRunAbortedByContext(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(ctx context.Context, url string) api.FailureKind {
			fetch(url)
			<-ctx.Done()
			return api.FailureNone
		},
	}
	run := newRunner(t, tgt, runner.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res := run.Run(ctx, newBundle(t, time.Minute, "test.html", "never.js"))
	require.Equal(t, api.StatusError, res.Status)
	require.Contains(t, res.Cause, "aborted")
}

func TestRunBadIgnorePattern(t *testing.T) {
	srv, err := server.New()
	require.NoError(t, err)
	defer srv.Close()

	_, err = runner.New(srv, &target.StubTarget{}, runner.Options{
		Ignore: runner.IgnorePolicy{Patterns: []string{"("}},
	})
	require.Error(t, err)
}
