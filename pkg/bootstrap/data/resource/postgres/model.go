package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	pgutil "github.com/qbitflow/bootstrap/pkg/database/postgres"
)

const (
	tableName = "qbitflow__bootstrap_resource"

	// Schema creates the registry table when it does not exist yet.
	Schema = `
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id serial NOT NULL PRIMARY KEY,

			network text NOT NULL,
			symbol text NOT NULL,
			mint text NOT NULL,
			decimals integer NOT NULL CHECK (decimals >= 0),
			authority text NOT NULL,
			run_id text NOT NULL DEFAULT '',

			created_at timestamp with time zone NOT NULL,
			last_updated_at timestamp with time zone NOT NULL,

			CONSTRAINT qbitflow__bootstrap_resource__uniq__network__and__symbol UNIQUE (network, symbol)
		);
	`

	allColumns = `id, network, symbol, mint, decimals, authority, run_id, created_at, last_updated_at`
)

type model struct {
	Id            sql.NullInt64 `db:"id"`
	Network       string        `db:"network"`
	Symbol        string        `db:"symbol"`
	Mint          string        `db:"mint"`
	Decimals      int           `db:"decimals"`
	Authority     string        `db:"authority"`
	RunID         string        `db:"run_id"`
	CreatedAt     time.Time     `db:"created_at"`
	LastUpdatedAt time.Time     `db:"last_updated_at"`
}

func toModel(obj *resource.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	return &model{
		Network:       obj.Network,
		Symbol:        obj.Symbol,
		Mint:          obj.Mint,
		Decimals:      int(obj.Decimals),
		Authority:     obj.Authority,
		RunID:         obj.RunID,
		CreatedAt:     obj.CreatedAt,
		LastUpdatedAt: obj.LastUpdatedAt,
	}, nil
}

func fromModel(obj *model) *resource.Record {
	return &resource.Record{
		Id:            uint64(obj.Id.Int64),
		Network:       obj.Network,
		Symbol:        obj.Symbol,
		Mint:          obj.Mint,
		Decimals:      uint8(obj.Decimals),
		Authority:     obj.Authority,
		RunID:         obj.RunID,
		CreatedAt:     obj.CreatedAt,
		LastUpdatedAt: obj.LastUpdatedAt,
	}
}

func (m *model) dbSave(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `INSERT INTO ` + tableName + `
			(network, symbol, mint, decimals, authority, run_id, created_at, last_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)

			ON CONFLICT (network, symbol)
			DO UPDATE
				SET mint = $3, decimals = $4, authority = $5, run_id = $6, last_updated_at = $7
				WHERE ` + tableName + `.network = $1 AND ` + tableName + `.symbol = $2

			RETURNING ` + allColumns

		return tx.QueryRowxContext(
			ctx,
			query,
			m.Network,
			m.Symbol,
			m.Mint,
			m.Decimals,
			m.Authority,
			m.RunID,
			time.Now(),
		).StructScan(m)
	})
}

func dbGet(ctx context.Context, db *sqlx.DB, network, symbol string) (*model, error) {
	var res model
	query := `SELECT ` + allColumns + ` FROM ` + tableName + `
		WHERE network = $1 AND symbol = $2
	`

	err := db.GetContext(ctx, &res, query, network, symbol)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, resource.ErrNotFound)
	}
	return &res, nil
}

func dbGetAllByNetwork(ctx context.Context, db *sqlx.DB, network string) ([]*model, error) {
	var res []*model
	query := `SELECT ` + allColumns + ` FROM ` + tableName + `
		WHERE network = $1
		ORDER BY symbol ASC
	`

	err := db.SelectContext(ctx, &res, query, network)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func dbDelete(ctx context.Context, db *sqlx.DB, network, symbol string) error {
	query := `DELETE FROM ` + tableName + `
		WHERE network = $1 AND symbol = $2
	`

	_, err := db.ExecContext(ctx, query, network, symbol)
	return err
}
