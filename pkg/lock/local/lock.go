package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/qbitflow/bootstrap/pkg/lock"
)

// LockManager is an in-process lock.Manager.
type LockManager struct {
	mu     sync.Mutex
	held   map[string]*Lock
	closed bool
}

func NewLockManager() *LockManager {
	return &LockManager{
		held: make(map[string]*Lock),
	}
}

// Create implements lock.Manager.
func (lm *LockManager) Create(_ context.Context, name string) (lock.DistributedLock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closed {
		return nil, fmt.Errorf("LockManager is closed")
	}

	return &Lock{lm: lm, name: name}, nil
}

// Close implements lock.Manager.
func (lm *LockManager) Close() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.closed = true
	for name, l := range lm.held {
		close(l.lostCh)
		l.lostCh = nil
		delete(lm.held, name)
	}
}

type Lock struct {
	lm     *LockManager
	name   string
	lostCh chan struct{}
}

// TryAcquire implements lock.DistributedLock.
func (l *Lock) TryAcquire(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()

	if l.lm.closed {
		return nil, fmt.Errorf("lock manager closed")
	}
	if l.lostCh != nil {
		return nil, fmt.Errorf("lock already acquired")
	}
	if _, ok := l.lm.held[l.name]; ok {
		return nil, lock.ErrLockHeld
	}

	l.lostCh = make(chan struct{})
	l.lm.held[l.name] = l

	lostCh := l.lostCh
	go func() {
		select {
		case <-ctx.Done():
			l.release(lostCh)
		case <-lostCh:
		}
	}()

	return lostCh, nil
}

// Unlock implements lock.DistributedLock.
func (l *Lock) Unlock(_ context.Context) error {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()

	l.unlock()
	return nil
}

// release unlocks only if lostCh belongs to the current acquisition.
func (l *Lock) release(lostCh chan struct{}) {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()

	if l.lostCh == lostCh {
		l.unlock()
	}
}

func (l *Lock) unlock() {
	if l.lostCh == nil {
		return
	}

	close(l.lostCh)
	l.lostCh = nil
	delete(l.lm.held, l.name)
}

// IsLocked implements lock.DistributedLock.
func (l *Lock) IsLocked() bool {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()

	return l.lostCh != nil
}
