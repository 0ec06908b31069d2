package repository

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/jackc/pgtype/pgxtype"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/internal/common/config"
)

type migration struct {
	id   int
	name string
	sql  string
}

var migrations = []migration{
	{
		id:   1,
		name: "create events",
		sql: `
CREATE TABLE IF NOT EXISTS events (
	id             text PRIMARY KEY,
	name           text NOT NULL,
	scheduled_time timestamptz NOT NULL,
	session_id     text NULL,
	data           jsonb NULL,
	data_local     boolean NOT NULL DEFAULT false,
	data_owner     text NULL,
	driver         text NULL,
	lock_owner     text NULL,
	lock_time      timestamptz NULL
);
CREATE INDEX IF NOT EXISTS idx_events_scheduled_time ON events (scheduled_time);`,
	},
	{
		id:   2,
		name: "create results",
		sql: `
CREATE TABLE IF NOT EXISTS results (
	id             text PRIMARY KEY,
	driver_id      text NOT NULL,
	success        boolean NOT NULL,
	start_time     timestamptz NOT NULL,
	start_delay_ms bigint NOT NULL,
	duration_ms    bigint NOT NULL,
	data           jsonb NULL,
	event          jsonb NULL,
	event_name     text NOT NULL,
	warning        text NULL,
	processed_by   text NOT NULL,
	chart          boolean NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_start_time ON results (start_time);
CREATE INDEX IF NOT EXISTS idx_results_event_name ON results (event_name, start_time);`,
	},
}

// OpenPgxPool connects to postgres, retrying while the database comes up.
func OpenPgxPool(ctx context.Context, postgresConfig config.PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresConfig.ConnectionString())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if postgresConfig.PoolMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(postgresConfig.PoolMaxOpenConns)
	}
	if postgresConfig.PoolMaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = postgresConfig.PoolMaxConnLifetime
	}

	var db *pgxpool.Pool
	err = retry.Do(
		func() error {
			pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
			if err != nil {
				return err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return err
			}
			db = pool
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Failed to connect to postgres (attempt %d)", n+1)
		}),
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return db, nil
}

// UpdateDatabase applies the migrations newer than the version recorded in the database.
func UpdateDatabase(ctx context.Context, db pgxtype.Querier) error {
	log.Info("Updating postgres...")
	version, err := readVersion(ctx, db)
	if err != nil {
		return err
	}
	log.Infof("Current version %v", version)

	for _, m := range migrations {
		if m.id > version {
			log.Infof("Applying migration %d: %s", m.id, m.name)
			_, err := db.Exec(ctx, m.sql)
			if err != nil {
				return errors.Wrapf(err, "migration %d failed", m.id)
			}

			version = m.id
			err = setVersion(ctx, db, version)
			if err != nil {
				return err
			}
		}
	}
	log.Info("Database updated.")
	return nil
}

func readVersion(ctx context.Context, db pgxtype.Querier) (int, error) {
	_, err := db.Exec(ctx,
		`CREATE SEQUENCE IF NOT EXISTS database_version START WITH 0 MINVALUE 0;`)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	var version int
	err = db.QueryRow(ctx, `SELECT last_value FROM database_version`).Scan(&version)
	return version, errors.WithStack(err)
}

func setVersion(ctx context.Context, db pgxtype.Querier, version int) error {
	_, err := db.Exec(ctx, `SELECT setval('database_version', $1)`, version)
	return errors.WithStack(err)
}
