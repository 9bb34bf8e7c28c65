// Package session multiplexes logical sandbox sessions over backend
// drivers: race-safe get-or-create, per-session serial execution, a
// background reaper for idle sessions, and graceful shutdown.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// Session binds one driver instance to one owner. All driver calls for a
// session happen under its mutex; the active flag is the single source of
// truth for whether the driver may still be used.
type Session struct {
	id      string
	ownerID string
	driver  sandbox.Driver

	// mu serializes every operation on this session, including the
	// reaper's teardown.
	mu sync.Mutex

	// active is guarded by mu. Once false it never becomes true again.
	active bool

	// lastAccessed is unix nanos, atomic so the reaper can read it
	// without taking the session mutex away from a long execution.
	lastAccessed atomic.Int64
}

func newSession(id, ownerID string, driver sandbox.Driver) *Session {
	s := &Session{
		id:      id,
		ownerID: ownerID,
		driver:  driver,
		active:  true,
	}
	s.touch()
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) OwnerID() string { return s.ownerID }

// Driver exposes the owned driver. Callers must hold the session via the
// manager's scope; the driver must never be used after deactivation.
func (s *Session) Driver() sandbox.Driver { return s.driver }

// Active reports the liveness flag under the session mutex.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) touch() {
	s.lastAccessed.Store(time.Now().UnixNano())
}

// LastAccessed returns the time of the most recent operation exit.
func (s *Session) LastAccessed() time.Time {
	return time.Unix(0, s.lastAccessed.Load())
}

// idleFor reports how long the session has gone without an operation.
func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.LastAccessed())
}
