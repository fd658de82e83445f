package pg

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

const driverName = "nrpgx"

type Config struct {
	URL                string
	MaxOpenConnections int
	MaxIdleConnections int
}

// Open returns a connection pool for the postgres URL using the New Relic
// instrumented pgx driver, and verifies the connection.
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	if len(config.URL) == 0 {
		return nil, errors.New("postgres url is required")
	}

	db, err := sql.Open(driverName, config.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection pool")
	}

	if config.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(config.MaxOpenConnections)
	}
	if config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(config.MaxIdleConnections)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	return db, nil
}
