package etcd

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/qbitflow/bootstrap/pkg/lock"
)

type LockManager struct {
	log     *logrus.Entry
	client  *v3.Client
	rootKey string
	lockTTL int
	lockVal string

	closeOnce sync.Once
	closeCh   chan struct{}

	sessionMu sync.Mutex
	session   *concurrency.Session
}

// NewLockManager returns a lock.Manager whose locks live under rootKey and
// expire lockTTL after the process stops refreshing its session. Held lock
// keys carry lockValue so operators can identify the owner.
//
// Locks produced by the same LockManager for the same name are re-entrant.
func NewLockManager(client *v3.Client, rootKey string, lockTTL time.Duration, lockValue string) (*LockManager, error) {
	// WithTTL() will default the TTL to 60 seconds if TTL <= 0 || TTL > 60 seconds.
	if lockTTL < time.Second || lockTTL > time.Minute {
		return nil, fmt.Errorf("invalid lock ttl: %v (must be [1s, 60s])", lockTTL)
	}

	lockTTLSeconds := int(lockTTL.Round(time.Second).Seconds())

	session, err := newSession(client, lockTTLSeconds)
	if err != nil {
		return nil, err
	}

	lm := &LockManager{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type": "etcd/LockManager",
			"root": rootKey,
		}),
		client:  client,
		rootKey: rootKey,
		lockTTL: lockTTLSeconds,
		lockVal: lockValue,

		closeCh: make(chan struct{}),
		session: session,
	}

	// The session keeps itself alive through leadership changes, but can end
	// for good if the cluster stays leaderless. watchSession() replaces it.
	go lm.watchSession()

	return lm, nil
}

// Create implements lock.Manager.
func (lm *LockManager) Create(_ context.Context, name string) (lock.DistributedLock, error) {
	key := path.Join(lm.rootKey, name)

	lm.sessionMu.Lock()
	defer lm.sessionMu.Unlock()

	if lm.session == nil {
		return nil, fmt.Errorf("LockManager is closed")
	}

	return newLock(lm, key), nil
}

// Close implements lock.Manager. All locks held through the manager become
// unlocked.
func (lm *LockManager) Close() {
	lm.closeOnce.Do(func() {
		lm.sessionMu.Lock()
		defer lm.sessionMu.Unlock()

		close(lm.closeCh)

		// Closing the session revokes its lease, deleting every lock key.
		if err := lm.session.Close(); err != nil {
			lm.log.WithError(err).Warn("failed to close etcd session on close")
		}

		lm.session = nil
	})
}

func (lm *LockManager) watchSession() {
	for {
		lm.sessionMu.Lock()
		session := lm.session
		lm.sessionMu.Unlock()

		if session == nil {
			return
		}

		select {
		case <-lm.closeCh:
			return
		case <-session.Done():
		}

		lm.log.Info("Locker session expired. Attempting to recreate session...")

		session, err := newSession(lm.client, lm.lockTTL)
		if err != nil {
			lm.log.WithError(err).Warn("failed to recreate session for locker, retrying in 1s")
			time.Sleep(1 * time.Second)
			continue
		}

		lm.sessionMu.Lock()
		if lm.session == nil {
			lm.sessionMu.Unlock()
			_ = session.Close()
			return
		}
		lm.session = session
		lm.sessionMu.Unlock()
	}
}

func newSession(client *v3.Client, ttlSeconds int) (*concurrency.Session, error) {
	session, err := concurrency.NewSession(
		client,
		concurrency.WithTTL(ttlSeconds),
		concurrency.WithContext(v3.WithRequireLeader(context.Background())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}
	return session, nil
}

type Lock struct {
	log *logrus.Entry
	lm  *LockManager
	key string

	mutexMu sync.Mutex
	mutex   *concurrency.Mutex
}

func newLock(lm *LockManager, key string) *Lock {
	return &Lock{
		log: logrus.WithFields(logrus.Fields{
			"type": "etcd/Lock",
			"key":  key,
		}),
		lm:  lm,
		key: key,
	}
}

// TryAcquire implements lock.DistributedLock.
func (l *Lock) TryAcquire(ctx context.Context) (<-chan struct{}, error) {
	l.mutexMu.Lock()
	defer l.mutexMu.Unlock()

	if l.mutex != nil {
		return nil, fmt.Errorf("lock already acquired")
	}

	l.lm.sessionMu.Lock()
	session := l.lm.session
	l.lm.sessionMu.Unlock()

	if session == nil {
		return nil, fmt.Errorf("lock manager closed")
	}

	mutex := concurrency.NewMutex(session, l.key)
	if err := mutex.TryLock(ctx); err == concurrency.ErrLocked {
		return nil, lock.ErrLockHeld
	} else if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if len(l.lm.lockVal) > 0 {
		_, err := session.Client().Put(ctx, mutex.Key(), l.lm.lockVal, v3.WithLease(session.Lease()))
		if err != nil {
			_ = mutex.Unlock(context.Background())
			return nil, fmt.Errorf("failed to set lock value: %w", err)
		}
	}

	l.log.Debug("Lock acquired")
	l.mutex = mutex

	watchCtx, cancelWatch := context.WithCancel(ctx)
	watchCh := session.Client().Watch(
		v3.WithRequireLeader(watchCtx),
		mutex.Key(),
		v3.WithRev(mutex.Header().Revision),
	)

	lostCh := make(chan struct{})
	go func() {
		defer cancelWatch()
		defer func() {
			l.mutexMu.Lock()
			defer l.mutexMu.Unlock()

			if l.mutex != mutex {
				return
			}

			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mutex.Unlock(unlockCtx); err != nil {
				l.log.WithError(err).Warn("Failed to unlock on lock cleanup")
			}

			l.mutex = nil
		}()

		// lostCh is closed before the remaining clean-up so the loss propagates
		// even while the cluster is leaderless and Unlock() cannot succeed.
		defer close(lostCh)

		for {
			select {
			case <-session.Done():
				l.log.Warn("Session closed/ended, releasing lock")
				return

			case <-watchCtx.Done():
				return

			case watchEvent, ok := <-watchCh:
				if !ok {
					return
				}

				if err := watchEvent.Err(); err != nil {
					l.log.WithError(err).Warn("Failure watching our lock key")
					return
				}

				for _, event := range watchEvent.Events {
					if event.Type == mvccpb.DELETE {
						l.log.Trace("Lock key has been removed")
						return
					}
				}
			}
		}
	}()

	return lostCh, nil
}

// Unlock implements lock.DistributedLock
func (l *Lock) Unlock(ctx context.Context) error {
	l.mutexMu.Lock()
	defer l.mutexMu.Unlock()

	if l.mutex == nil {
		return nil
	}

	err := l.mutex.Unlock(ctx)
	l.mutex = nil
	return err
}

// IsLocked implements lock.DistributedLock
func (l *Lock) IsLocked() bool {
	l.mutexMu.Lock()
	defer l.mutexMu.Unlock()

	return l.mutex != nil && l.mutex.Key() != ""
}
