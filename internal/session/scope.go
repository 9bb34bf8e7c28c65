package session

import (
	"context"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// With acquires the session, re-validates liveness under its mutex, runs
// fn, and refreshes the access time on exit.
//
// Between GetOrCreate returning and the mutex being acquired, the reaper
// may deactivate the session and terminate its driver. Re-checking
// active under the mutex is what keeps fn off a torn-down driver; on a
// dead session the loop re-enters GetOrCreate, which creates a fresh one
// because the dead session has already left the index.
func (m *Manager) With(ctx context.Context, sessionID string, user sandbox.User, fn func(ctx context.Context, driver sandbox.Driver) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := m.GetOrCreate(ctx, sessionID, user)
		if err != nil {
			return err
		}

		sess.mu.Lock()
		if !sess.active {
			sess.mu.Unlock()
			m.logger.Warn("session reaped during acquisition, retrying", "session_id", sessionID)
			continue
		}

		err = fn(ctx, sess.driver)
		sess.touch()
		sess.mu.Unlock()
		return err
	}
}
