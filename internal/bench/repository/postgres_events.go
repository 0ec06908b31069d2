package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const eventColumns = `id, name, scheduled_time, session_id, data, data_local, data_owner, driver, lock_owner, lock_time`

const insertEventSql = `
INSERT INTO events (id, name, scheduled_time, session_id, data, data_local, data_owner, driver)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''))`

// SKIP LOCKED lets concurrent claimers pass over rows another transaction is claiming.
const claimEventSql = `
UPDATE events SET lock_owner = $1, lock_time = $2
WHERE id = (
	SELECT id FROM events
	WHERE scheduled_time <= $3
	  AND (lock_time IS NULL OR lock_time <= $4)
	  AND (data_owner IS NULL OR data_owner = $1)
	  AND ($5 = '' OR driver IS NULL OR driver = $5)
	ORDER BY scheduled_time, id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + eventColumns

// PostgresEventStore is an EventStore backed by the events table.
type PostgresEventStore struct {
	db          *pgxpool.Pool
	local       *event.LocalDataStore
	lockTimeout time.Duration
	clock       util.Clock
}

func NewPostgresEventStore(db *pgxpool.Pool, local *event.LocalDataStore, lockTimeout time.Duration, clock util.Clock) *PostgresEventStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresEventStore{db: db, local: local, lockTimeout: lockTimeout, clock: clock}
}

func (s *PostgresEventStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&count)
	return count, errors.WithStack(err)
}

func (s *PostgresEventStore) Put(ctx context.Context, e *event.Event) (string, error) {
	stored, err := prepareForPut(e, s.local)
	if err != nil {
		return "", err
	}
	data, err := toJsonb(stored.Data)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(ctx, insertEventSql,
		stored.Id, stored.Name, stored.ScheduledTime, stored.SessionId, data, stored.DataLocal, stored.DataOwner, stored.Driver)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return "", errors.WithStack(&benchmarkerrors.ErrAlreadyExists{Type: "event", Value: stored.Id})
	} else if err != nil {
		return "", errors.WithStack(err)
	}
	return stored.Id, nil
}

func (s *PostgresEventStore) ClaimNext(ctx context.Context, driverId string, latestScheduledTime time.Time) (*event.Event, error) {
	now := s.clock.Now()
	row := s.db.QueryRow(ctx, claimEventSql,
		s.local.OwnerId(), now, latestScheduledTime, now.Add(-s.lockTimeout), driverId)
	claimed, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := s.local.Attach(claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *PostgresEventStore) Delete(ctx context.Context, e *event.Event) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, e.Id)
	if err != nil {
		return false, errors.WithStack(err)
	}
	s.local.Release(e.Id)
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresEventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresEventStore) Clear(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM events`)
	return errors.WithStack(err)
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		e         event.Event
		sessionId pgtype.Text
		data      pgtype.JSONB
		dataOwner pgtype.Text
		driver    pgtype.Text
		lockOwner pgtype.Text
		lockTime  pgtype.Timestamptz
	)
	err := row.Scan(&e.Id, &e.Name, &e.ScheduledTime, &sessionId, &data, &e.DataLocal, &dataOwner, &driver, &lockOwner, &lockTime)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.SessionId = sessionId.String
	e.DataOwner = dataOwner.String
	e.Driver = driver.String
	e.LockOwner = lockOwner.String
	if lockTime.Status == pgtype.Present {
		e.LockTime = lockTime.Time
	}
	if data.Status == pgtype.Present {
		if err := json.Unmarshal(data.Bytes, &e.Data); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return &e, nil
}

func toJsonb(data interface{}) (pgtype.JSONB, error) {
	if data == nil {
		return pgtype.JSONB{Status: pgtype.Null}, nil
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return pgtype.JSONB{}, errors.WithStack(err)
	}
	return pgtype.JSONB{Bytes: bytes, Status: pgtype.Present}, nil
}
