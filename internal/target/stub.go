package target

import (
	"context"
	"errors"
	"sync"

	"github.com/pyoor/grizzly/api"
)

// StubTarget is a deterministic in-process Target for tests. Launch runs
// Script in a goroutine with the session URL; the script's return value
// becomes the detected failure. The script's context is cancelled when
// the stub is closed, which is how a "hung" script gets unstuck.
type StubTarget struct {
	// Script drives one instance. A nil Script finishes immediately
	// without failure.
	Script func(ctx context.Context, url string) api.FailureKind
	// Artifacts, when set, is returned by Logs after close.
	Artifacts api.ArtifactSet

	mu       sync.Mutex
	state    State
	launches int
	finished bool
	result   api.FailureKind
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ Target = (*StubTarget)(nil)

func (t *StubTarget) Launch(_ context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Launching || t.state == Running {
		return errors.New("stub target: already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.result = api.FailureNone
	t.finished = false
	t.state = Running
	t.launches++

	go func() {
		defer close(done)
		kind := api.FailureNone
		if t.Script != nil {
			kind = t.Script(ctx, url)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		t.result = kind
		t.finished = true
		switch kind {
		case api.FailureHang:
			t.state = Hung
		case api.FailureCrash, api.FailureOOM:
			t.state = Crashed
		}
	}()
	return nil
}

// IsHealthy reports false once the script has finished, even when it
// finished cleanly, mirroring a process that exited.
func (t *StubTarget) IsHealthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Running && !t.finished
}

func (t *StubTarget) DetectFailure(hint Hint) api.FailureKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.result != api.FailureNone {
		return t.result
	}
	if t.state == Running && !t.finished && hint == HintServerTimeout {
		// still wedged past the serve deadline
		t.state = Hung
		t.result = api.FailureHang
		return api.FailureHang
	}
	return api.FailureNone
}

func (t *StubTarget) Close(bool) error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Terminal() {
		t.state = Closed
	}
	return nil
}

func (t *StubTarget) Logs() (api.ArtifactSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Terminal() {
		return api.ArtifactSet{}, errors.New("stub target: not closed")
	}
	return t.Artifacts, nil
}

func (t *StubTarget) Relaunch(ctx context.Context, url string) error {
	if err := t.Close(true); err != nil {
		return err
	}
	return t.Launch(ctx, url)
}

func (t *StubTarget) LaunchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.launches
}

func (t *StubTarget) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
