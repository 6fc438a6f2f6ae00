package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/pyoor/grizzly/api"
)

const (
	stdoutName = "stdout.txt"
	stderrName = "stderr.txt"

	// launchSettle is how long Launch watches a fresh process for an
	// immediate exit before declaring it up.
	launchSettle = 100 * time.Millisecond

	defaultLaunchTimeout = 5 * time.Minute
	defaultHangGrace     = 5 * time.Second
	defaultLogLimit      = 8 << 20
)

// Config describes how to run the target binary. The serve URL is
// appended as the final argument on every launch.
type Config struct {
	Binary string
	Args   []string
	Env    []string

	// LaunchTimeout bounds a single Launch call.
	LaunchTimeout time.Duration
	// HangGrace is how long a process still alive past the serve
	// deadline gets to finish before it is declared hung. The same
	// window applies to graceful shutdown.
	HangGrace time.Duration
	// LogLimit caps the bytes captured per output stream.
	LogLimit int64
	// OOMPatterns are regexes matched against captured logs to tell an
	// out-of-memory abort apart from an ordinary crash.
	OOMPatterns []string
}

func (c *Config) applyDefaults() {
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = defaultLaunchTimeout
	}
	if c.HangGrace <= 0 {
		c.HangGrace = defaultHangGrace
	}
	if c.LogLimit <= 0 {
		c.LogLimit = defaultLogLimit
	}
}

// ProcessTarget supervises an os/exec backed process instance. Output
// streams are captured to files in a per-instance temp directory which
// survives the process as the run's artifact set.
type ProcessTarget struct {
	cfg    Config
	oomRes []*regexp.Regexp
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	inst     *instance
	launches int
}

var _ Target = (*ProcessTarget)(nil)

// NewProcess validates cfg and returns an unlaunched supervisor.
func NewProcess(cfg Config, logger *slog.Logger) (*ProcessTarget, error) {
	if cfg.Binary == "" {
		return nil, errors.New("target: no binary configured")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	t := &ProcessTarget{cfg: cfg, logger: logger, state: NotStarted}
	for _, pat := range cfg.OOMPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("target: bad oom pattern %q: %w", pat, err)
		}
		t.oomRes = append(t.oomRes, re)
	}
	return t, nil
}

// instance is one started process and its artifact directory.
type instance struct {
	cmd *exec.Cmd
	dir string

	stdout *cappedWriter
	stderr *cappedWriter

	// stopped records that shutdown was requested, so an exit caused by
	// our own signal is not read as a crash.
	stopped bool
	// claimed is set once Logs handed the artifacts to the caller.
	claimed bool

	waitErr error
	done    chan struct{}
}

func (in *instance) exited() bool {
	select {
	case <-in.done:
		return true
	default:
		return false
	}
}

// wait reaps the process and closes the capture files exactly once.
func (in *instance) wait() {
	in.waitErr = in.cmd.Wait()
	_ = in.stdout.Close()
	_ = in.stderr.Close()
	close(in.done)
}

// Launch starts a fresh process instance pointed at url. A process that
// cannot start, or dies within the settle window, yields ErrLaunchFailed
// and the Crashed state.
func (t *ProcessTarget) Launch(ctx context.Context, url string) error {
	t.mu.Lock()
	if t.state == Launching || t.state == Running {
		t.mu.Unlock()
		return errors.New("target: process already running")
	}
	t.state = Launching
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.LaunchTimeout)
	defer cancel()

	inst, err := t.start(url)
	if err != nil {
		t.setState(Crashed)
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	select {
	case <-inst.done:
		if inst.waitErr != nil {
			_ = os.RemoveAll(inst.dir)
			t.setState(Crashed)
			return fmt.Errorf("%w: exited during startup: %v", ErrLaunchFailed, inst.waitErr)
		}
		// started and finished cleanly already; still counts as a launch
	case <-ctx.Done():
		_ = inst.cmd.Process.Kill()
		<-inst.done
		_ = os.RemoveAll(inst.dir)
		t.setState(Crashed)
		return fmt.Errorf("%w: %v", ErrLaunchFailed, ctx.Err())
	case <-time.After(launchSettle):
	}

	t.mu.Lock()
	prev := t.inst
	discard := prev != nil && !prev.claimed
	t.inst = inst
	t.launches++
	t.state = Running
	t.mu.Unlock()
	if discard {
		// artifacts nobody retrieved are not findings
		_ = os.RemoveAll(prev.dir)
	}

	t.logger.Debug("target launched",
		"binary", t.cfg.Binary, "pid", inst.cmd.Process.Pid,
		"launch_count", t.launches)
	return nil
}

func (t *ProcessTarget) start(url string) (*instance, error) {
	dir, err := os.MkdirTemp("", "grizzly-target-")
	if err != nil {
		return nil, err
	}
	stdout, err := newCappedWriter(filepath.Join(dir, stdoutName), t.cfg.LogLimit)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	stderr, err := newCappedWriter(filepath.Join(dir, stderrName), t.cfg.LogLimit)
	if err != nil {
		_ = stdout.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	args := append(append([]string{}, t.cfg.Args...), url)
	cmd := exec.Command(t.cfg.Binary, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = dir
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		_ = os.RemoveAll(dir)
		return nil, err
	}

	inst := &instance{
		cmd:    cmd,
		dir:    dir,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go inst.wait()
	return inst, nil
}

// IsHealthy reports whether the process is alive and unflagged. Safe to
// call while the process runs.
func (t *ProcessTarget) IsHealthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Running && t.inst != nil && !t.inst.exited()
}

// DetectFailure classifies the current instance. An alive process is a
// failure only when hint says the serve deadline passed and it does not
// finish within the hang grace window.
func (t *ProcessTarget) DetectFailure(hint Hint) api.FailureKind {
	t.mu.Lock()
	inst := t.inst
	t.mu.Unlock()
	if inst == nil {
		return api.FailureNone
	}

	if !inst.exited() {
		if hint != HintServerTimeout {
			return api.FailureNone
		}
		select {
		case <-inst.done:
			// finished after all; classify the exit below
		case <-time.After(t.cfg.HangGrace):
			t.setState(Hung)
			return api.FailureHang
		}
	}

	if t.matchOOM(inst) {
		t.setState(Crashed)
		return api.FailureOOM
	}
	if inst.waitErr != nil && !t.stopRequested(inst) {
		t.setState(Crashed)
		return api.FailureCrash
	}
	return api.FailureNone
}

func (t *ProcessTarget) stopRequested(inst *instance) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return inst.stopped
}

func (t *ProcessTarget) matchOOM(inst *instance) bool {
	if len(t.oomRes) == 0 {
		return false
	}
	for _, name := range []string{stderrName, stdoutName} {
		data, err := os.ReadFile(filepath.Join(inst.dir, name))
		if err != nil {
			continue
		}
		for _, re := range t.oomRes {
			if re.Match(data) {
				return true
			}
		}
	}
	return false
}

// Close shuts the process down: SIGTERM with a grace window, then
// SIGKILL. The artifact directory is left in place for Logs. Idempotent.
func (t *ProcessTarget) Close(force bool) error {
	t.mu.Lock()
	inst := t.inst
	t.mu.Unlock()

	if inst != nil && !inst.exited() {
		t.mu.Lock()
		inst.stopped = true
		t.mu.Unlock()
		if !force {
			_ = inst.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-inst.done:
			case <-time.After(t.cfg.HangGrace):
				force = true
			}
		}
		if force && !inst.exited() {
			_ = inst.cmd.Process.Kill()
			<-inst.done
		}
	}

	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = Closed
	}
	t.mu.Unlock()
	return nil
}

// Logs returns the artifact set of the most recent instance. Valid only
// after the instance is terminal; ownership passes to the caller.
func (t *ProcessTarget) Logs() (api.ArtifactSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inst == nil {
		return api.ArtifactSet{}, errors.New("target: no process instance")
	}
	if !t.state.Terminal() {
		return api.ArtifactSet{}, errors.New("target: logs not available before close")
	}
	t.inst.claimed = true

	set := api.ArtifactSet{
		Dir:    t.inst.dir,
		Stdout: filepath.Join(t.inst.dir, stdoutName),
		Stderr: filepath.Join(t.inst.dir, stderrName),
	}
	// anything else the process dropped next to its logs (minidumps etc)
	entries, err := os.ReadDir(t.inst.dir)
	if err != nil {
		return set, nil
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == stdoutName || e.Name() == stderrName {
			continue
		}
		set.Extra = append(set.Extra, filepath.Join(t.inst.dir, e.Name()))
	}
	return set, nil
}

// Relaunch force-closes the current instance, discards its artifacts and
// starts a fresh one. Used when cycling a reused target, where the old
// instance's logs are not findings.
func (t *ProcessTarget) Relaunch(ctx context.Context, url string) error {
	if err := t.Close(true); err != nil {
		return err
	}
	t.mu.Lock()
	inst := t.inst
	t.inst = nil
	t.mu.Unlock()
	if inst != nil {
		_ = os.RemoveAll(inst.dir)
	}
	return t.Launch(ctx, url)
}

func (t *ProcessTarget) LaunchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.launches
}

func (t *ProcessTarget) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *ProcessTarget) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// cappedWriter captures a stream to a file up to a byte limit, then
// keeps draining so the process never blocks on a full pipe.
type cappedWriter struct {
	f         *os.File
	remaining int64
}

func newCappedWriter(path string, limit int64) (*cappedWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &cappedWriter{f: f, remaining: limit}, nil
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.remaining <= 0 {
		return n, nil
	}
	if int64(len(p)) > w.remaining {
		p = p[:w.remaining]
	}
	if _, err := w.f.Write(p); err != nil {
		return 0, err
	}
	w.remaining -= int64(len(p))
	return n, nil
}

func (w *cappedWriter) Close() error {
	return w.f.Close()
}
