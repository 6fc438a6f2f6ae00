package target_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/target"
)

// shTarget builds a supervisor around a shell script. The serve URL the
// runner appends lands in $0 and is ignored by the scripts here.
func shTarget(t *testing.T, script string, cfg target.Config) *target.ProcessTarget {
	t.Helper()
	cfg.Binary = "/bin/sh"
	cfg.Args = []string{"-c", script}
	tgt, err := target.NewProcess(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tgt.Close(true) })
	return tgt
}

func waitExit(t *testing.T, tgt *target.ProcessTarget) {
	t.Helper()
	require.Eventually(t, func() bool { return !tgt.IsHealthy() },
		5*time.Second, 20*time.Millisecond, "process did not exit")
}

func TestProcessLaunchAndClose(t *testing.T) {
	tgt := shTarget(t, "sleep 30", target.Config{HangGrace: 200 * time.Millisecond})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.Equal(t, target.Running, tgt.State())
	require.True(t, tgt.IsHealthy())
	require.Equal(t, 1, tgt.LaunchCount())

	_, err := tgt.Logs()
	require.Error(t, err, "logs are not available while the process runs")

	require.NoError(t, tgt.Close(false))
	require.Equal(t, target.Closed, tgt.State())
	require.False(t, tgt.IsHealthy())

	logs, err := tgt.Logs()
	require.NoError(t, err)
	require.FileExists(t, logs.Stdout)
	require.FileExists(t, logs.Stderr)
}

func TestProcessCrashDetected(t *testing.T) {
	tgt := shTarget(t, "sleep 0.2; echo boom >&2; exit 1", target.Config{})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	waitExit(t, tgt)

	require.Equal(t, api.FailureCrash, tgt.DetectFailure(target.HintNone))
	require.Equal(t, target.Crashed, tgt.State())
	require.NoError(t, tgt.Close(true))

	logs, err := tgt.Logs()
	require.NoError(t, err)
	data, err := os.ReadFile(logs.Stderr)
	require.NoError(t, err)
	require.Contains(t, string(data), "boom")
}

func TestProcessOOMPattern(t *testing.T) {
	tgt := shTarget(t, "sleep 0.2; echo 'ERROR: out of memory' >&2; exit 1",
		target.Config{OOMPatterns: []string{"out of memory"}})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	waitExit(t, tgt)

	require.Equal(t, api.FailureOOM, tgt.DetectFailure(target.HintNone))
	require.Equal(t, target.Crashed, tgt.State())
}

func TestProcessHangDetection(t *testing.T) {
	tgt := shTarget(t, "sleep 30", target.Config{HangGrace: 150 * time.Millisecond})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))

	// alive without a deadline hint is not a failure
	require.Equal(t, api.FailureNone, tgt.DetectFailure(target.HintNone))
	require.Equal(t, target.Running, tgt.State())

	require.Equal(t, api.FailureHang, tgt.DetectFailure(target.HintServerTimeout))
	require.Equal(t, target.Hung, tgt.State())

	require.NoError(t, tgt.Close(true))
	require.Equal(t, target.Hung, tgt.State(), "failure states survive close")
}

func TestProcessSlowFinishIsNotAHang(t *testing.T) {
	tgt := shTarget(t, "sleep 0.3", target.Config{HangGrace: 2 * time.Second})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.Equal(t, api.FailureNone, tgt.DetectFailure(target.HintServerTimeout),
		"clean exit within the grace window")
}

func TestProcessCloseIsNotACrash(t *testing.T) {
	tgt := shTarget(t, "sleep 30", target.Config{HangGrace: 2 * time.Second})
	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.NoError(t, tgt.Close(false))
	require.Equal(t, api.FailureNone, tgt.DetectFailure(target.HintNone),
		"exit caused by our own shutdown signal")
	require.Equal(t, target.Closed, tgt.State())

	tgt = shTarget(t, "sleep 30", target.Config{})
	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.NoError(t, tgt.Close(true))
	require.Equal(t, api.FailureNone, tgt.DetectFailure(target.HintNone),
		"forced kill is not a crash either")
}

func TestProcessCrashAfterCloselessExit(t *testing.T) {
	tgt := shTarget(t, "sleep 0.2; exit 1", target.Config{})
	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	waitExit(t, tgt)

	// the process died on its own before any shutdown was requested
	require.NoError(t, tgt.Close(false))
	require.Equal(t, api.FailureCrash, tgt.DetectFailure(target.HintNone))
	require.Equal(t, target.Crashed, tgt.State())
}

func TestProcessLaunchDiscardsUnclaimedArtifacts(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	tgt := shTarget(t, "sleep 30", target.Config{})
	for i := 0; i < 3; i++ {
		require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
		require.NoError(t, tgt.Close(true))
	}
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the most recent instance keeps its artifacts")

	// once retrieved, the artifacts belong to the caller and survive
	logs, err := tgt.Logs()
	require.NoError(t, err)
	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.DirExists(t, logs.Dir)
}

func TestProcessLaunchFailed(t *testing.T) {
	tgt, err := target.NewProcess(target.Config{Binary: "/nonexistent/definitely-not-here"}, nil)
	require.NoError(t, err)

	err = tgt.Launch(context.Background(), "http://127.0.0.1:1/x")
	require.ErrorIs(t, err, target.ErrLaunchFailed)
	require.Equal(t, target.Crashed, tgt.State())
}

func TestProcessExitDuringStartupIsLaunchFailure(t *testing.T) {
	tgt := shTarget(t, "exit 3", target.Config{})

	err := tgt.Launch(context.Background(), "http://127.0.0.1:1/x")
	require.ErrorIs(t, err, target.ErrLaunchFailed)
}

func TestProcessRelaunchDiscardsArtifacts(t *testing.T) {
	tgt := shTarget(t, "sleep 30", target.Config{})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.NoError(t, tgt.Close(true))
	logs, err := tgt.Logs()
	require.NoError(t, err)
	require.DirExists(t, logs.Dir)

	require.NoError(t, tgt.Relaunch(context.Background(), "http://127.0.0.1:1/x"))
	require.Equal(t, 2, tgt.LaunchCount())
	require.True(t, tgt.IsHealthy())
	require.NoDirExists(t, logs.Dir, "old instance artifacts are discarded")
}

func TestProcessLogLimit(t *testing.T) {
	tgt := shTarget(t, "sleep 0.2; yes x | head -c 100000",
		target.Config{LogLimit: 1024})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	waitExit(t, tgt)
	require.NoError(t, tgt.Close(false))

	logs, err := tgt.Logs()
	require.NoError(t, err)
	info, err := os.Stat(logs.Stdout)
	require.NoError(t, err)
	require.LessOrEqual(t, info.Size(), int64(1024))
}

func TestProcessCloseIdempotent(t *testing.T) {
	tgt := shTarget(t, "sleep 30", target.Config{})

	require.NoError(t, tgt.Launch(context.Background(), "http://127.0.0.1:1/x"))
	require.NoError(t, tgt.Close(true))
	require.NoError(t, tgt.Close(true))
	require.NoError(t, tgt.Close(false))
	require.Equal(t, target.Closed, tgt.State())
}

func TestProcessConfigValidation(t *testing.T) {
	_, err := target.NewProcess(target.Config{}, nil)
	require.Error(t, err, "binary is required")

	_, err = target.NewProcess(target.Config{Binary: "/bin/sh", OOMPatterns: []string{"("}}, nil)
	require.Error(t, err, "patterns must compile")
}

func TestStubLifecycle(t *testing.T) {
	tgt := &target.StubTarget{
		Script: func(ctx context.Context, _ string) api.FailureKind {
			<-ctx.Done()
			return api.FailureNone
		},
	}

	require.Equal(t, target.NotStarted, tgt.State())
	require.NoError(t, tgt.Launch(context.Background(), "http://x/"))
	require.Error(t, tgt.Launch(context.Background(), "http://x/"), "one instance at a time")
	require.True(t, tgt.IsHealthy())

	require.NoError(t, tgt.Relaunch(context.Background(), "http://x/"))
	require.Equal(t, 2, tgt.LaunchCount())

	require.NoError(t, tgt.Close(true))
	require.Equal(t, target.Closed, tgt.State())
	require.False(t, tgt.IsHealthy())

	logs, err := tgt.Logs()
	require.NoError(t, err)
	require.True(t, logs.Empty())
}
