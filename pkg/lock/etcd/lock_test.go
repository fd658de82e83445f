//go:build integration

package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
	v3 "go.etcd.io/etcd/client/v3"

	"github.com/qbitflow/bootstrap/pkg/etcdtest"
	"github.com/qbitflow/bootstrap/pkg/lock"
)

func TestLock(t *testing.T) {
	require := require.New(t)

	pool, err := dockertest.NewPool("")
	require.NoError(err)

	client, teardown, err := etcdtest.StartEtcd(pool)
	require.NoError(err)
	defer teardown()

	for _, tc := range []struct {
		name string
		f    func(t *testing.T, client *v3.Client)
	}{
		{name: "Happy", f: testHappy},
		{name: "MultipleManagers", f: testMultipleManagers},
		{name: "Cancellation", f: testCancellation},
		{name: "Close", f: testClose},
		{name: "DoubleAcquire", f: testDoubleAcquire},
		{name: "DoubleUnlock", f: testDoubleUnlock},
		{name: "InvalidTTL", f: testInvalidTTL},
	} {
		t.Run(tc.name, func(t *testing.T) { tc.f(t, client) })
	}
}

func testHappy(t *testing.T, client *v3.Client) {
	require := require.New(t)

	lm, err := NewLockManager(client, "/locks", 10*time.Second, "run-1")
	require.NoError(err)
	defer lm.Close()

	l, err := lm.Create(context.Background(), "deployer")
	require.NoError(err)
	require.False(l.IsLocked())

	lostCh, err := l.TryAcquire(context.Background())
	require.NoError(err)
	require.True(l.IsLocked())

	kvs, err := client.Get(context.Background(), "/locks/deployer", v3.WithPrefix())
	require.NoError(err)
	require.Len(kvs.Kvs, 1)
	require.Equal("run-1", string(kvs.Kvs[0].Value))

	require.NoError(l.Unlock(context.Background()))
	<-lostCh
	require.False(l.IsLocked())

	kvs, err = client.Get(context.Background(), "/locks/deployer", v3.WithPrefix())
	require.NoError(err)
	require.Empty(kvs.Kvs)
}

func testMultipleManagers(t *testing.T, client *v3.Client) {
	require := require.New(t)

	first, err := NewLockManager(client, "/locks", 10*time.Second, "run-1")
	require.NoError(err)
	defer first.Close()

	second, err := NewLockManager(client, "/locks", 10*time.Second, "run-2")
	require.NoError(err)
	defer second.Close()

	held, err := first.Create(context.Background(), "deployer")
	require.NoError(err)
	lostCh, err := held.TryAcquire(context.Background())
	require.NoError(err)

	contender, err := second.Create(context.Background(), "deployer")
	require.NoError(err)
	_, err = contender.TryAcquire(context.Background())
	require.Equal(lock.ErrLockHeld, err)
	require.False(contender.IsLocked())

	// A different name is independent.
	other, err := second.Create(context.Background(), "other")
	require.NoError(err)
	_, err = other.TryAcquire(context.Background())
	require.NoError(err)
	require.NoError(other.Unlock(context.Background()))

	// Locks from the same manager are re-entrant.
	reentrant, err := first.Create(context.Background(), "deployer")
	require.NoError(err)
	_, err = reentrant.TryAcquire(context.Background())
	require.NoError(err)

	require.NoError(held.Unlock(context.Background()))
	<-lostCh

	_, err = contender.TryAcquire(context.Background())
	require.NoError(err)
	require.True(contender.IsLocked())
	require.NoError(contender.Unlock(context.Background()))
}

func testCancellation(t *testing.T, client *v3.Client) {
	require := require.New(t)

	lm, err := NewLockManager(client, "/locks", 10*time.Second, "run-1")
	require.NoError(err)
	defer lm.Close()

	l, err := lm.Create(context.Background(), "deployer")
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lostCh, err := l.TryAcquire(ctx)
	require.NoError(err)
	cancel()

	<-lostCh
	require.Eventually(func() bool { return !l.IsLocked() }, 5*time.Second, 50*time.Millisecond)

	_, err = l.TryAcquire(ctx)
	require.ErrorIs(err, context.Canceled)
}

func testClose(t *testing.T, client *v3.Client) {
	require := require.New(t)

	lm, err := NewLockManager(client, "/locks", 10*time.Second, "run-1")
	require.NoError(err)
	defer lm.Close()

	l, err := lm.Create(context.Background(), "deployer")
	require.NoError(err)

	lostCh, err := l.TryAcquire(context.Background())
	require.NoError(err)

	lm.Close()
	<-lostCh

	require.Eventually(func() bool { return !l.IsLocked() }, 5*time.Second, 50*time.Millisecond)

	_, err = l.TryAcquire(context.Background())
	require.ErrorContains(err, "closed")

	l, err = lm.Create(context.Background(), "deployer")
	require.Nil(l)
	require.ErrorContains(err, "closed")
}

func testDoubleAcquire(t *testing.T, client *v3.Client) {
	require := require.New(t)

	lm, err := NewLockManager(client, "/locks", 10*time.Second, "run-1")
	require.NoError(err)
	defer lm.Close()

	l, err := lm.Create(context.Background(), "deployer")
	require.NoError(err)

	_, err = l.TryAcquire(context.Background())
	require.NoError(err)

	_, err = l.TryAcquire(context.Background())
	require.ErrorContains(err, "already acquired")

	require.NoError(l.Unlock(context.Background()))
}

func testDoubleUnlock(t *testing.T, client *v3.Client) {
	require := require.New(t)

	lm, err := NewLockManager(client, "/locks", 10*time.Second, "run-1")
	require.NoError(err)
	defer lm.Close()

	l, err := lm.Create(context.Background(), "deployer")
	require.NoError(err)

	_, err = l.TryAcquire(context.Background())
	require.NoError(err)

	require.NoError(l.Unlock(context.Background()))
	require.NoError(l.Unlock(context.Background()))
}

func testInvalidTTL(t *testing.T, client *v3.Client) {
	for _, ttl := range []time.Duration{0, 500 * time.Millisecond, 2 * time.Minute} {
		_, err := NewLockManager(client, "/locks", ttl, "run-1")
		require.Error(t, err)
	}
}
