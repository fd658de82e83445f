package lock

import (
	"context"
	"errors"
)

// ErrLockHeld is returned by TryAcquire when another owner holds the lock.
var ErrLockHeld = errors.New("lock is held by another owner")

// Manager creates and manages locks.
type Manager interface {
	// Create creates an unlocked DistributedLock for a specific key.
	Create(ctx context.Context, name string) (DistributedLock, error)

	// Close releases every lock held through the manager.
	Close()
}

// DistributedLock is a handle to a lock that may span multiple processes.
type DistributedLock interface {
	// TryAcquire attempts to acquire the lock without waiting for other
	// owners. ErrLockHeld is returned if the lock is held elsewhere.
	//
	// The returned channel is closed when the lock is lost. The lock can be
	// lost when the context is cancelled, Unlock() is called, or the
	// underlying implementation detects that the lock _might_ have been lost.
	TryAcquire(ctx context.Context) (<-chan struct{}, error)

	// Unlock unlocks the lock, if the lock is held.
	//
	// Unlock is idempotent.
	Unlock(ctx context.Context) error

	// IsLocked returns whether the lock is held by this handle.
	IsLocked() bool
}
