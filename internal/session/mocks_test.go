package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// fakeDriver instruments every call so tests can assert the lifecycle
// invariants: Start exactly once, Terminate at most once, and no two
// Execute calls overlapping in time.
type fakeDriver struct {
	startCalls     atomic.Int32
	terminateCalls atomic.Int32
	execCalls      atomic.Int32

	inFlight        atomic.Int32
	overlapObserved atomic.Bool

	execDelay time.Duration
	startErr  error
	execErr   error

	mu             sync.Mutex
	usedAfterDeath bool
	dead           bool
}

var _ sandbox.Driver = (*fakeDriver)(nil)

func (d *fakeDriver) Start(ctx context.Context) error {
	d.startCalls.Add(1)
	return d.startErr
}

func (d *fakeDriver) Execute(ctx context.Context, code string, language sandbox.Language) (*sandbox.ExecutionResult, error) {
	if d.inFlight.Add(1) > 1 {
		d.overlapObserved.Store(true)
	}
	defer d.inFlight.Add(-1)

	d.mu.Lock()
	if d.dead {
		d.usedAfterDeath = true
	}
	d.mu.Unlock()

	if d.execDelay > 0 {
		time.Sleep(d.execDelay)
	}
	d.execCalls.Add(1)
	if d.execErr != nil {
		return nil, d.execErr
	}
	return &sandbox.ExecutionResult{Stdout: "ok", DurationSeconds: 0.01}, nil
}

func (d *fakeDriver) Upload(ctx context.Context, localPath, remotePath string) error { return nil }

func (d *fakeDriver) Download(ctx context.Context, remotePath, localPath string) error { return nil }

func (d *fakeDriver) ListFiles(ctx context.Context, path string) ([]string, error) {
	return []string{}, nil
}

func (d *fakeDriver) InstallPackage(ctx context.Context, spec string) error { return nil }

func (d *fakeDriver) Terminate(ctx context.Context) {
	d.terminateCalls.Add(1)
	d.mu.Lock()
	d.dead = true
	d.mu.Unlock()
}

// fakeFactory records every driver it hands out.
type fakeFactory struct {
	mu      sync.Mutex
	drivers []*fakeDriver
	next    func() *fakeDriver
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{next: func() *fakeDriver { return &fakeDriver{} }}
}

func (f *fakeFactory) factory() (sandbox.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d := f.next()
	f.drivers = append(f.drivers, d)
	return d, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

func (f *fakeFactory) driver(i int) *fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[i]
}
