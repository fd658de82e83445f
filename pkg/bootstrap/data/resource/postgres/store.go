package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	pgutil "github.com/qbitflow/bootstrap/pkg/database/postgres"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres-backed resource.Store
func New(db *sql.DB) resource.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// EnsureSchema creates the registry table if it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

// Save implements resource.Store.Save
func (s *store) Save(ctx context.Context, record *resource.Record) error {
	obj, err := toModel(record)
	if err != nil {
		return err
	}

	err = pgutil.ExecuteRetryable(func() error {
		return obj.dbSave(ctx, s.db)
	})
	if err != nil {
		return err
	}

	res := fromModel(obj)
	res.CopyTo(record)

	return nil
}

// Get implements resource.Store.Get
func (s *store) Get(ctx context.Context, network, symbol string) (*resource.Record, error) {
	model, err := dbGet(ctx, s.db, network, symbol)
	if err != nil {
		return nil, err
	}

	return fromModel(model), nil
}

// GetAllByNetwork implements resource.Store.GetAllByNetwork
func (s *store) GetAllByNetwork(ctx context.Context, network string) ([]*resource.Record, error) {
	models, err := dbGetAllByNetwork(ctx, s.db, network)
	if err != nil {
		return nil, err
	}

	res := make([]*resource.Record, len(models))
	for i, model := range models {
		res[i] = fromModel(model)
	}
	return res, nil
}

// Delete implements resource.Store.Delete
func (s *store) Delete(ctx context.Context, network, symbol string) error {
	return dbDelete(ctx, s.db, network, symbol)
}
