package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crucible-sh/crucible/internal/metrics"
	"github.com/crucible-sh/crucible/internal/sandbox"
)

// Manager owns the sessionID -> Session index. Creation is serialized by
// a single creation mutex: driver start is the slow step and must not be
// raced, while a whole-map lock held across start would block unrelated
// traffic.
type Manager struct {
	factory        sandbox.DriverFactory
	idleTimeout    time.Duration
	reaperInterval time.Duration
	logger         *slog.Logger

	mu       sync.RWMutex // guards sessions
	sessions map[string]*Session

	creationMu sync.Mutex

	reaperMu     sync.Mutex
	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
}

func NewManager(factory sandbox.DriverFactory, idleTimeout, reaperInterval time.Duration, logger *slog.Logger) *Manager {
	// time.NewTicker panics on a non-positive interval.
	if reaperInterval <= 0 {
		reaperInterval = time.Second
	}
	return &Manager{
		factory:        factory,
		idleTimeout:    idleTimeout,
		reaperInterval: reaperInterval,
		logger:         logger,
		sessions:       make(map[string]*Session),
	}
}

// GetOrCreate returns the session for sessionID, creating and starting a
// driver for it on first use. The returned session is active at the
// instant of return; callers must still re-validate under its mutex (see
// With) because the reaper can deactivate it concurrently.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string, user sandbox.User) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", sandbox.ErrInvalidArgument)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user context is required", sandbox.ErrInvalidArgument)
	}

	m.startReaperIfNeeded()

	// Optimistic lookup before taking the creation mutex.
	if sess, err, ok := m.lookup(sessionID, user); ok {
		return sess, err
	}

	m.creationMu.Lock()
	defer m.creationMu.Unlock()

	// Double-check: another caller may have won the race while we waited.
	if sess, err, ok := m.lookup(sessionID, user); ok {
		return sess, err
	}

	m.logger.Info("creating session", "session_id", sessionID, "user_id", user.ID)

	driver, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrBackendUnavailable, err)
	}

	// Start failures leave no trace in the index so the next call for
	// this id can retry cleanly.
	if err := driver.Start(ctx); err != nil {
		return nil, fmt.Errorf("start driver for session %s: %w", sessionID, err)
	}

	sess := newSession(sessionID, user.ID, driver)

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.ActiveSessions.Inc()

	return sess, nil
}

// lookup reports (session, err, found). Ownership is checked on every
// hit; a hit also refreshes the access time.
func (m *Manager) lookup(sessionID string, user sandbox.User) (*Session, error, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	if sess.ownerID != user.ID {
		return nil, fmt.Errorf("%w: session %s belongs to another user", sandbox.ErrAccessDenied, sessionID), true
	}
	sess.touch()
	return sess, nil, true
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) startReaperIfNeeded() {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()
	if m.reaperCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.reaperCancel = cancel
	m.reaperDone = make(chan struct{})
	go m.runReaper(ctx, m.reaperDone)
}

func (m *Manager) runReaper(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Info("session reaper started", "interval", m.reaperInterval, "idle_timeout", m.idleTimeout)

	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			m.reapIdle(ctx)
		}
	}
}

// reapIdle terminates every session idle past the timeout. Only explicit
// cancellation ends the reaper; a misbehaving driver must not.
func (m *Manager) reapIdle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reaper recovered from panic", "panic", r)
		}
	}()

	now := time.Now()

	m.mu.RLock()
	expired := make([]*Session, 0)
	for _, sess := range m.sessions {
		if sess.idleFor(now) > m.idleTimeout {
			expired = append(expired, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range expired {
		m.logger.Info("reaping idle session", "session_id", sess.id, "idle", sess.idleFor(now))

		// Remove from the index first so new callers create a fresh
		// session instead of racing the teardown.
		m.mu.Lock()
		if m.sessions[sess.id] == sess {
			delete(m.sessions, sess.id)
		}
		m.mu.Unlock()

		m.deactivateAndTerminate(ctx, sess)
		metrics.SessionsReaped.Inc()
	}
}

// deactivateAndTerminate flips active under the session mutex before the
// driver is torn down, so any holder re-acquiring the mutex sees the dead
// flag rather than a torn-down driver.
func (m *Manager) deactivateAndTerminate(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active {
		return
	}
	sess.active = false
	sess.driver.Terminate(ctx)
	metrics.ActiveSessions.Dec()
}

// Shutdown stops the reaper, clears the index, and terminates every
// session. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.reaperMu.Lock()
	if m.reaperCancel != nil {
		m.reaperCancel()
		<-m.reaperDone
		m.reaperCancel = nil
		m.reaperDone = nil
	}
	m.reaperMu.Unlock()

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		remaining = append(remaining, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if len(remaining) == 0 {
		return nil
	}

	m.logger.Info("shutting down session manager", "sessions", len(remaining))

	// In-flight operations hold their session mutex; termination waits
	// for each to finish but sessions tear down in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range remaining {
		g.Go(func() error {
			m.deactivateAndTerminate(gctx, sess)
			return nil
		})
	}
	return g.Wait()
}
