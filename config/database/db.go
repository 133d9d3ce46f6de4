package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"formsave/internal/config"
	"formsave/pkg/logger"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

var schemas = map[string]string{
	config.DriverPostgres: `CREATE TABLE IF NOT EXISTS answer_sets (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		answers JSONB NOT NULL DEFAULT '{}'::jsonb,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	config.DriverSQLite: `CREATE TABLE IF NOT EXISTS answer_sets (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		answers TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Connect opens the configured SQL store, waits for it to answer and makes
// sure the answer_sets table exists.
func Connect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.StoreDriver, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.StoreDriver == config.DriverSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY mid-transaction.
		db.SetMaxOpenConns(1)
	}

	if err := ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, cfg.StoreDriver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	var err error
	for i := 0; i < pingAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", pingBackoff, err)
		select {
		case <-time.After(pingBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("could not connect to database after %d attempts: %w", pingAttempts, err)
}

func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	schema, ok := schemas[driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create answer_sets: %w", err)
	}
	return nil
}
