package bootstrap

import (
	"context"
	"time"

	"github.com/pkg/errors"
	v3 "go.etcd.io/etcd/client/v3"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/config"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	resource_file "github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource/file"
	resource_memory "github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource/memory"
	resource_postgres "github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource/postgres"
	pg "github.com/qbitflow/bootstrap/pkg/database/postgres"
	"github.com/qbitflow/bootstrap/pkg/lock"
	lock_etcd "github.com/qbitflow/bootstrap/pkg/lock/etcd"
	lock_local "github.com/qbitflow/bootstrap/pkg/lock/local"
)

const (
	lockRootKey     = "/qbitflow/bootstrap/locks"
	etcdDialTimeout = 5 * time.Second
)

// localLocks serializes runs within the process when no etcd cluster is
// configured.
var localLocks = lock_local.NewLockManager()

func openResourceStore(ctx context.Context, cfg *config.Config) (resource.Store, func(), error) {
	switch cfg.Registry.Driver {
	case config.RegistryDriverMemory:
		return resource_memory.New(), func() {}, nil
	case config.RegistryDriverPostgres:
		db, err := pg.Open(ctx, pg.Config{URL: cfg.Registry.PostgresURL})
		if err != nil {
			return nil, nil, errors.Wrapf(ErrStorage, "failed to open registry database: %v", err)
		}
		if err := resource_postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, errors.Wrapf(ErrStorage, "failed to prepare registry schema: %v", err)
		}
		return resource_postgres.New(db), func() { db.Close() }, nil
	case config.RegistryDriverFile, "":
		return resource_file.New(cfg.AccountsDir), func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown registry driver %q", cfg.Registry.Driver)
	}
}

func openLockManager(cfg *config.Config, runID string) (lock.Manager, func(), error) {
	if len(cfg.Lock.EtcdEndpoints) == 0 {
		return localLocks, func() {}, nil
	}

	client, err := v3.New(v3.Config{
		Endpoints:   cfg.Lock.EtcdEndpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to etcd")
	}

	lm, err := lock_etcd.NewLockManager(client, lockRootKey, cfg.Lock.TTL, runID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	return lm, func() {
		lm.Close()
		client.Close()
	}, nil
}
