// Package server implements the loopback test-case serving protocol. A
// server owns one listening endpoint and serves exactly one session at a
// time; content from one session is never visible to another.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pyoor/grizzly/internal/testcase"
)

// ErrServerBusy is returned by Serve while a prior session has not reached
// a terminal state.
var ErrServerBusy = errors.New("server busy: previous session still active")

// ports the exercised browser engines refuse to connect to
var blockedPorts = map[int]bool{
	1719: true, 1720: true, 1723: true, 2049: true, 3659: true,
	4045: true, 5060: true, 5061: true, 6000: true, 6566: true,
	6665: true, 6666: true, 6667: true, 6668: true, 6669: true,
	6697: true, 10080: true,
}

const (
	defaultMaxWorkers = 10
	listenAttempts    = 10
)

type Option func(*Server)

// WithMaxWorkers bounds the number of concurrently handled requests.
func WithMaxWorkers(n int) Option {
	return func(s *Server) { s.maxWorkers = n }
}

// WithAutoClose makes 4xx pages call window.close() after d, so a target
// left on an error page cleans itself up in continuous mode.
func WithAutoClose(d time.Duration) Option {
	return func(s *Server) { s.autoClose = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server serves test case bundles over a loopback endpoint.
type Server struct {
	ln     net.Listener
	http   *http.Server
	logger *slog.Logger

	maxWorkers int
	workers    *semaphore.Weighted
	autoClose  time.Duration

	mu      sync.Mutex
	session *Session
	closed  bool
}

// New binds a loopback listener on a system-assigned port and starts
// accepting connections.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		logger:     slog.Default(),
		maxWorkers: defaultMaxWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.workers = semaphore.NewWeighted(int64(s.maxWorkers))

	ln, err := listenLoopback()
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.http = &http.Server{Handler: http.HandlerFunc(s.route)}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", "err", err)
		}
	}()

	s.logger.Debug("server listening", "addr", ln.Addr().String())
	return s, nil
}

// listenLoopback binds 127.0.0.1:0, retrying past ports that browser
// engines block.
func listenLoopback() (net.Listener, error) {
	var lastErr error
	for i := 0; i < listenAttempts; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			lastErr = err
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if blockedPorts[ln.Addr().(*net.TCPAddr).Port] {
			_ = ln.Close()
			continue
		}
		return ln, nil
	}
	return nil, fmt.Errorf("server: could not bind loopback listener: %w", lastErr)
}

// Addr returns the host:port of the listening endpoint.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port returns the listening port number.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve begins a serving session for the bundle. smap may be nil. Fails
// fast with ErrServerBusy while a prior session is still active.
func (s *Server) Serve(tc *testcase.TestCase, smap *ServerMap) (*Session, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("server: closed")
	}
	if s.session != nil && !s.session.terminal() {
		return nil, ErrServerBusy
	}
	s.session = newSession(s, tc, smap)
	s.logger.Debug("session started",
		"entry", tc.EntryPoint(), "entries", tc.Len(),
		"time_limit", tc.TimeLimit)
	return s.session, nil
}

// route dispatches a request to the current active session under the
// worker bound.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if err := s.workers.Acquire(r.Context(), 1); err != nil {
		return
	}
	defer s.workers.Release(1)

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil || !sess.active() {
		s.errorPage(w, http.StatusNotFound)
		return
	}
	sess.handle(w, r)
}

// errorPage writes a 4xx response. With auto-close enabled the body
// schedules window.close() so a stranded target page goes away on its own.
func (s *Server) errorPage(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(code)
	if s.autoClose <= 0 {
		fmt.Fprintf(w, "<h3>%d!</h3>", code)
		return
	}
	secs := int(s.autoClose / time.Second)
	fmt.Fprintf(w,
		"<script>window.onload = () => { window.setTimeout(window.close, %d) }</script>\n"+
			"<body style=\"background-color:#ffffe0\">\n<h3>%d! - Calling window.close() in %d seconds</h3>\n</body>\n",
		secs*1000, code, secs)
}

// Close releases the listening endpoint. Any active session is closed
// first.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sess := s.session
	s.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
