package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource/tests"

	pgutil "github.com/qbitflow/bootstrap/pkg/database/postgres"
	postgrestest "github.com/qbitflow/bootstrap/pkg/database/postgres/test"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	// Used for testing ONLY
	tableDestroy = `
		DROP TABLE ` + tableName + `;
	`
)

var (
	testStore resource.Store
	teardown  func()
)

func TestMain(m *testing.M) {
	log := logrus.StandardLogger()

	testPool, err := dockertest.NewPool("")
	if err != nil {
		log.WithError(err).Error("Error creating docker pool")
		os.Exit(1)
	}

	db, url, cleanUpFunc, err := postgrestest.StartPostgresDB(testPool)
	if err != nil {
		log.WithError(err).Error("Error starting postgres image")
		os.Exit(1)
	}
	defer db.Close()

	// The store runs against the instrumented driver used in production.
	instrumented, err := pgutil.Open(context.Background(), pgutil.Config{URL: url})
	if err != nil {
		log.WithError(err).Error("Error opening instrumented connection")
		cleanUpFunc()
		os.Exit(1)
	}
	defer instrumented.Close()

	if err := createTestTables(instrumented); err != nil {
		log.WithError(err).Error("Error creating test tables")
		cleanUpFunc()
		os.Exit(1)
	}

	testStore = New(instrumented)
	teardown = func() {
		if pc := recover(); pc != nil {
			cleanUpFunc()
			panic(pc)
		}

		if err := resetTestTables(db); err != nil {
			log.WithError(err).Error("Error resetting test tables")
			cleanUpFunc()
			os.Exit(1)
		}
	}

	code := m.Run()
	cleanUpFunc()
	os.Exit(code)
}

func TestResourcePostgresStore(t *testing.T) {
	tests.RunTests(t, testStore, teardown)
}

func createTestTables(db *sql.DB) error {
	// Twice, to cover re-running against an existing schema.
	for i := 0; i < 2; i++ {
		if err := EnsureSchema(context.Background(), db); err != nil {
			return err
		}
	}
	return nil
}

func resetTestTables(db *sql.DB) error {
	if _, err := db.Exec(tableDestroy); err != nil {
		logrus.StandardLogger().WithError(err).Error("could not drop test tables")
		return err
	}

	return createTestTables(db)
}
