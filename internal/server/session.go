package server

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pyoor/grizzly/api"
	"github.com/pyoor/grizzly/internal/testcase"
)

type sessionState int32

const (
	statePending sessionState = iota
	stateActive
	stateClosing
	stateClosed
	stateTimedOut
)

// idleCheckPeriod bounds how often Wait inspects the idle clock.
const idleCheckPeriod = 100 * time.Millisecond

// Session serves one bundle to exactly one consumer. A session reaches a
// terminal outcome when all required entries have been requested, the
// consumer requests DonePath, or a deadline elapses.
type Session struct {
	srv  *Server
	tc   *testcase.TestCase
	smap *ServerMap

	started  time.Time
	lastReq  atomic.Int64 // unix nanos of the most recent request
	state    atomic.Int32
	requests *xsync.Counter

	served  mapset.Set[string]
	pending mapset.Set[string] // required paths not yet requested

	finishOnce sync.Once
	outcome    api.SessionOutcome
	done       chan struct{}
}

func newSession(srv *Server, tc *testcase.TestCase, smap *ServerMap) *Session {
	s := &Session{
		srv:      srv,
		tc:       tc,
		smap:     smap,
		started:  time.Now(),
		requests: xsync.NewCounter(),
		served:   mapset.NewSet[string](),
		pending:  mapset.NewSet(tc.RequiredPaths()...),
		done:     make(chan struct{}),
	}
	s.lastReq.Store(s.started.UnixNano())
	s.state.Store(int32(stateActive))
	return s
}

// URL returns the address of the session's entry point.
func (s *Session) URL() string {
	return fmt.Sprintf("http://%s/%s", s.srv.Addr(), s.tc.EntryPoint())
}

// Served returns a snapshot of the requested paths, sorted.
func (s *Session) Served() []string {
	out := s.served.ToSlice()
	sort.Strings(out)
	return out
}

// Requests returns the number of requests handled so far.
func (s *Session) Requests() int64 {
	return s.requests.Value()
}

// Outcome is valid once Wait has returned or Close has been called.
func (s *Session) Outcome() api.SessionOutcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return ""
	}
}

func (s *Session) active() bool {
	return sessionState(s.state.Load()) == stateActive
}

func (s *Session) terminal() bool {
	st := sessionState(s.state.Load())
	return st == stateClosed || st == stateTimedOut
}

// Wait blocks until the session reaches a terminal outcome or ctx is
// cancelled. On cancellation the session is closed and the outcome so far
// is returned together with the context error.
func (s *Session) Wait(ctx context.Context) (api.SessionOutcome, error) {
	deadline := time.NewTimer(s.tc.TimeLimit)
	defer deadline.Stop()

	idle := time.NewTicker(idleCheckPeriod)
	defer idle.Stop()

	for {
		select {
		case <-s.done:
			return s.outcome, nil
		case <-deadline.C:
			s.finish(stateTimedOut, api.OutcomeTimedOut)
			<-s.done
			return s.outcome, nil
		case <-idle.C:
			if s.tc.IdleLimit <= 0 {
				continue
			}
			last := time.Unix(0, s.lastReq.Load())
			if time.Since(last) > s.tc.IdleLimit {
				s.finish(stateTimedOut, api.OutcomeIdleTimedOut)
				<-s.done
				return s.outcome, nil
			}
		case <-ctx.Done():
			s.Close()
			return s.outcome, ctx.Err()
		}
	}
}

// Close forces the session into a terminal state. A session must never
// outlive the run that started it. Safe to call more than once.
func (s *Session) Close() {
	s.finish(stateClosed, s.servedOutcome())
}

// finish resolves the terminal outcome exactly once.
func (s *Session) finish(st sessionState, outcome api.SessionOutcome) {
	s.finishOnce.Do(func() {
		s.state.Store(int32(stateClosing))
		s.outcome = outcome
		s.state.Store(int32(st))
		close(s.done)
	})
}

// servedOutcome derives the clean-close outcome from what was requested.
func (s *Session) servedOutcome() api.SessionOutcome {
	switch {
	case s.pending.Cardinality() == 0:
		return api.OutcomeAllServed
	case s.served.Cardinality() == 0:
		return api.OutcomeNoneServed
	default:
		return api.OutcomePartial
	}
}

func (s *Session) handle(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc()
	s.lastReq.Store(time.Now().UnixNano())

	if r.Method != http.MethodGet {
		s.srv.errorPage(w, http.StatusMethodNotAllowed)
		return
	}

	p := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")

	switch p {
	case DonePath:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("done"))
		s.finish(stateClosed, s.servedOutcome())
		return
	case NextPath:
		if s.smap == nil {
			s.srv.errorPage(w, http.StatusNotFound)
			return
		}
		target, ok := s.smap.advance()
		if !ok {
			target = DonePath
		}
		redirect(w, r, target)
		return
	}

	if s.smap != nil {
		if target, ok := s.smap.redirect(p); ok {
			s.markRequested(p)
			redirect(w, r, target)
			return
		}
		if d, ok := s.smap.dyn(p); ok {
			data := d.fn(r.URL.RawQuery)
			mime := d.mime
			if mime == "" {
				mime = "application/octet-stream"
			}
			w.Header().Set("Content-Type", mime)
			w.Header().Set("Cache-Control", "max-age=0, no-cache")
			_, _ = w.Write(data)
			s.markRequested(p)
			return
		}
	}

	e, ok := s.tc.Entry(p)
	if !ok {
		// unknown paths never affect session state
		s.srv.errorPage(w, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", testcase.ContentType(p))
	w.Header().Set("Cache-Control", "max-age=0, no-cache")
	_, _ = w.Write(e.Data)
	s.markRequested(p)
}

// markRequested records a served path and closes the session once every
// required entry has been requested (unless running forever).
func (s *Session) markRequested(p string) {
	s.served.Add(p)
	if !s.pending.Contains(p) {
		return
	}
	s.pending.Remove(p)
	if s.pending.Cardinality() > 0 {
		return
	}
	if s.smap != nil && s.smap.Forever {
		return
	}
	s.finish(stateClosed, api.OutcomeAllServed)
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if q := r.URL.RawQuery; q != "" {
		target += "?" + q
	}
	w.Header().Set("Location", "/"+strings.TrimPrefix(target, "/"))
	w.WriteHeader(http.StatusTemporaryRedirect)
}
