package server

import (
	"fmt"
	"strings"
	"sync"
)

// Control paths recognized by every session. They live outside the bundle
// namespace so entry names can never collide with them.
const (
	// DonePath closes the session cleanly when requested.
	DonePath = "grz_done"
	// NextPath advances the server map chain and redirects to the next
	// target, or to DonePath when the chain is exhausted.
	NextPath = "grz_next"
)

// DynamicHandler produces a response body for a dynamic resource. It
// receives the raw query string of the request.
type DynamicHandler func(query string) []byte

type dynResource struct {
	mime string
	fn   DynamicHandler
}

// ServerMap holds redirect and dynamic resource rules for one or more
// sessions. It lets a target be driven through a multi-file sequence
// without the caller re-serving.
type ServerMap struct {
	mu        sync.RWMutex
	redirects map[string]string
	dynamic   map[string]dynResource
	chain     []string
	chainPos  int

	// Forever keeps a session open after all required entries have been
	// served. Used in continuous mode together with the chain.
	Forever bool
}

func NewServerMap() *ServerMap {
	return &ServerMap{
		redirects: make(map[string]string),
		dynamic:   make(map[string]dynResource),
	}
}

// SetRedirect maps a request path to a 307 redirect target.
func (m *ServerMap) SetRedirect(path, target string) error {
	path = strings.Trim(path, "/")
	if path == "" || target == "" {
		return fmt.Errorf("server: redirect path and target must be set")
	}
	if path == DonePath || path == NextPath {
		return fmt.Errorf("server: %q is a reserved control path", path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects[path] = target
	return nil
}

// SetDynamic maps a request path to a callback-backed response.
func (m *ServerMap) SetDynamic(path, mime string, fn DynamicHandler) error {
	path = strings.Trim(path, "/")
	if path == "" || fn == nil {
		return fmt.Errorf("server: dynamic path and handler must be set")
	}
	if path == DonePath || path == NextPath {
		return fmt.Errorf("server: %q is a reserved control path", path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dynamic[path] = dynResource{mime: mime, fn: fn}
	return nil
}

// SetChain installs the ordered targets served through NextPath.
func (m *ServerMap) SetChain(targets ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain = append([]string(nil), targets...)
	m.chainPos = 0
}

func (m *ServerMap) redirect(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.redirects[path]
	return t, ok
}

func (m *ServerMap) dyn(path string) (dynResource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dynamic[path]
	return d, ok
}

// advance returns the next chain target. ok is false once the chain is
// exhausted, which signals completion.
func (m *ServerMap) advance() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chainPos >= len(m.chain) {
		return "", false
	}
	t := m.chain[m.chainPos]
	m.chainPos++
	return t, true
}
