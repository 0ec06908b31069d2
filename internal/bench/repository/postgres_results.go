package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
)

const resultsTableName = "results"

var (
	result_id           = goqu.C("id")
	result_driverId     = goqu.C("driver_id")
	result_success      = goqu.C("success")
	result_startTime    = goqu.C("start_time")
	result_startDelayMs = goqu.C("start_delay_ms")
	result_durationMs   = goqu.C("duration_ms")
	result_data         = goqu.C("data")
	result_event        = goqu.C("event")
	result_eventName    = goqu.C("event_name")
	result_warning      = goqu.C("warning")
	result_processedBy  = goqu.C("processed_by")
	result_chart        = goqu.C("chart")
)

// PostgresResultStore is a ResultStore backed by the results table. Queries are built with goqu.
type PostgresResultStore struct {
	db      *pgxpool.Pool
	dialect goqu.DialectWrapper
}

func NewPostgresResultStore(db *pgxpool.Pool) *PostgresResultStore {
	return &PostgresResultStore{db: db, dialect: goqu.Dialect("postgres")}
}

func (s *PostgresResultStore) RecordResult(ctx context.Context, record *event.EventRecord) error {
	data, err := toJsonb(record.Data)
	if err != nil {
		return err
	}
	e, err := toJsonb(record.Event)
	if err != nil {
		return err
	}
	ds := s.dialect.Insert(resultsTableName).Prepared(true).Rows(goqu.Record{
		"id":             record.Id,
		"driver_id":      record.DriverId,
		"success":        record.Success,
		"start_time":     record.StartTime,
		"start_delay_ms": record.StartDelay.Milliseconds(),
		"duration_ms":    record.Duration.Milliseconds(),
		"data":           nullableJson(data),
		"event":          nullableJson(e),
		"event_name":     record.EventName(),
		"warning":        record.Warning,
		"processed_by":   record.ProcessedBy,
		"chart":          record.Chart,
	})
	sql, args, err := ds.ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = s.db.Exec(ctx, sql, args...)
	return errors.WithStack(err)
}

func (s *PostgresResultStore) CountResults(ctx context.Context) (int64, error) {
	return s.count(ctx, nil)
}

func (s *PostgresResultStore) CountResultsByEventName(ctx context.Context, eventName string) (int64, error) {
	return s.count(ctx, result_eventName.Eq(eventName))
}

func (s *PostgresResultStore) CountResultsBySuccess(ctx context.Context) (int64, error) {
	return s.count(ctx, result_success.IsTrue())
}

func (s *PostgresResultStore) CountResultsByFailure(ctx context.Context) (int64, error) {
	return s.count(ctx, result_success.IsFalse())
}

func (s *PostgresResultStore) GetFirstResult(ctx context.Context) (*event.EventRecord, error) {
	return s.one(ctx, result_startTime.Asc())
}

func (s *PostgresResultStore) GetLastResult(ctx context.Context) (*event.EventRecord, error) {
	return s.one(ctx, result_startTime.Desc())
}

func (s *PostgresResultStore) GetResultsByEventName(ctx context.Context, eventName string, skip int, limit int) ([]*event.EventRecord, error) {
	ds := s.selectResults().
		Where(result_eventName.Eq(eventName)).
		Order(result_startTime.Asc(), result_id.Asc())
	return s.query(ctx, paged(ds, skip, limit))
}

func (s *PostgresResultStore) GetResults(ctx context.Context, from time.Time, to time.Time, chartOnly bool, skip int, limit int) ([]*event.EventRecord, error) {
	where := []exp.Expression{result_startTime.Gte(from), result_startTime.Lt(to)}
	if chartOnly {
		where = append(where, result_chart.IsTrue())
	}
	ds := s.selectResults().
		Where(where...).
		Order(result_startTime.Asc(), result_id.Asc())
	return s.query(ctx, paged(ds, skip, limit))
}

func (s *PostgresResultStore) GetEventNames(ctx context.Context) ([]string, error) {
	sql, args, err := s.dialect.From(resultsTableName).
		Select(result_eventName).
		Distinct().
		Order(result_eventName.Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WithStack(err)
		}
		names = append(names, name)
	}
	return names, errors.WithStack(rows.Err())
}

func (s *PostgresResultStore) Clear(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM results`)
	return errors.WithStack(err)
}

func (s *PostgresResultStore) selectResults() *goqu.SelectDataset {
	return s.dialect.From(resultsTableName).Select(
		result_id,
		result_driverId,
		result_success,
		result_startTime,
		result_startDelayMs,
		result_durationMs,
		result_data,
		result_event,
		result_warning,
		result_processedBy,
		result_chart,
	)
}

func (s *PostgresResultStore) count(ctx context.Context, where exp.Expression) (int64, error) {
	ds := s.dialect.From(resultsTableName).Select(goqu.COUNT(goqu.Star()))
	if where != nil {
		ds = ds.Where(where)
	}
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var count int64
	err = s.db.QueryRow(ctx, sql, args...).Scan(&count)
	return count, errors.WithStack(err)
}

func (s *PostgresResultStore) one(ctx context.Context, order exp.OrderedExpression) (*event.EventRecord, error) {
	records, err := s.query(ctx, s.selectResults().Order(order, result_id.Asc()).Limit(1))
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (s *PostgresResultStore) query(ctx context.Context, ds *goqu.SelectDataset) ([]*event.EventRecord, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	records := make([]*event.EventRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, errors.WithStack(rows.Err())
}

func scanRecord(rows pgx.Rows) (*event.EventRecord, error) {
	var (
		r            event.EventRecord
		startDelayMs int64
		durationMs   int64
		data         pgtype.JSONB
		e            pgtype.JSONB
		warning      pgtype.Text
	)
	err := rows.Scan(&r.Id, &r.DriverId, &r.Success, &r.StartTime, &startDelayMs, &durationMs, &data, &e, &warning, &r.ProcessedBy, &r.Chart)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r.StartDelay = time.Duration(startDelayMs) * time.Millisecond
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.Warning = warning.String
	if data.Status == pgtype.Present {
		if err := json.Unmarshal(data.Bytes, &r.Data); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if e.Status == pgtype.Present {
		r.Event = &event.Event{}
		if err := json.Unmarshal(e.Bytes, r.Event); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return &r, nil
}

func paged(ds *goqu.SelectDataset, skip int, limit int) *goqu.SelectDataset {
	if skip > 0 {
		ds = ds.Offset(uint(skip))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return ds
}

// nullableJson renders a jsonb parameter; goqu turns nil into NULL.
func nullableJson(value pgtype.JSONB) interface{} {
	if value.Status != pgtype.Present {
		return nil
	}
	return string(value.Bytes)
}
