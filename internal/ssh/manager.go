package ssh

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yoanbernabeu/vpndeploy/internal/config"
	"github.com/yoanbernabeu/vpndeploy/internal/errcode"
	"github.com/yoanbernabeu/vpndeploy/internal/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Manager caches one Session per identity (user@host:port). Dials for the
// same identity are shared, so concurrent callers for one host never open
// two connections. The cache lock is never held across network I/O.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	generation  uint64
	dials       singleflight.Group
	dialTimeout time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialTimeout overrides the dial and handshake timeout.
func WithDialTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.dialTimeout = d
	}
}

// NewManager returns an empty connection cache.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(m)
	}
	m.dialTimeout = defaultDialTimeout(m.dialTimeout)
	return m
}

// Acquire returns the cached session for creds, dialing when there is none
// or when the cached one fails a keepalive check.
func (m *Manager) Acquire(ctx context.Context, creds config.ServerCredentials) (*Session, error) {
	if errs := config.ValidateCredentials(creds); errs.HasErrors() {
		return nil, errcode.Wrap(errcode.InvalidInput, "acquire", errs)
	}
	if creds.Port == 0 {
		creds.Port = 22
	}
	id := creds.Identity()

	if s := m.cached(id); s != nil {
		if s.Alive() {
			return s, nil
		}
		logger.Get().Debugf("session to %s is stale, reconnecting", id)
		m.forget(id, s)
	}

	v, err, _ := m.dials.Do(id, func() (interface{}, error) {
		return m.connect(ctx, id, creds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// connect dials creds and caches the session, unless a caller that shared an
// earlier dial already cached one or CloseAll ran meanwhile.
func (m *Manager) connect(ctx context.Context, id string, creds config.ServerCredentials) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	generation := m.generation
	m.mu.Unlock()

	logger.Get().Debugf("connecting to %s", id)
	client, err := dial(ctx, creds, m.dialTimeout)
	if err != nil {
		return nil, err
	}

	s := newSession(creds, client)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		s.Close()
		return nil, errcode.New(errcode.SSHConnectionLost, "acquire "+id)
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) cached(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// forget drops s from the cache if it is still the entry for id, then closes it.
func (m *Manager) forget(id string, s *Session) {
	m.mu.Lock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	s.Close()
}

// Release closes and forgets the session for creds. Releasing an identity
// with no session is a no-op.
func (m *Manager) Release(creds config.ServerCredentials) {
	if creds.Port == 0 {
		creds.Port = 22
	}
	m.mu.Lock()
	s, ok := m.sessions[creds.Identity()]
	delete(m.sessions, creds.Identity())
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// CloseAll closes every cached session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.generation++
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(s.Close)
	}
	return g.Wait()
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CheckConnection connects and returns the output of uname -a.
func (m *Manager) CheckConnection(ctx context.Context, creds config.ServerCredentials) (string, error) {
	s, err := m.Acquire(ctx, creds)
	if err != nil {
		return "", err
	}
	out, err := Capture(ctx, s, "uname -a")
	if err != nil {
		return "", errcode.Wrap(errcode.InternalError, "check connection", err)
	}
	return out, nil
}

// Executor adapts Acquire to the Executor interface.
func (m *Manager) Executor(ctx context.Context, creds config.ServerCredentials) (Executor, error) {
	s, err := m.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Capture runs script and returns its trimmed stdout.
func Capture(ctx context.Context, e Executor, script string) (string, error) {
	var lines []string
	err := e.Run(ctx, script, Output{Stdout: func(l string) { lines = append(lines, l) }})
	return strings.TrimSpace(strings.Join(lines, "\n")), err
}
