package repository

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

const (
	resultsTable   = "results"
	startIndex     = "start"     // index for iterating results in start order
	eventNameIndex = "eventName" // index for looking up results of one event
	successIndex   = "success"   // index for counting successes and failures
)

type memoryResult struct {
	Id        string
	StartKey  string
	EventName string
	Success   bool
	Record    *event.EventRecord
}

// MemoryResultStore is a ResultStore backed by go-memdb.
type MemoryResultStore struct {
	db *memdb.MemDB
}

func NewMemoryResultStore() (*MemoryResultStore, error) {
	db, err := memdb.NewMemDB(memoryResultSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemoryResultStore{db: db}, nil
}

func (s *MemoryResultStore) RecordResult(_ context.Context, record *event.EventRecord) error {
	if record.Id == "" {
		return errors.WithStack(&benchmarkerrors.ErrInvalidArgument{
			Name:    "Id",
			Value:   record.Id,
			Message: "records must have an id",
		})
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	err := txn.Insert(resultsTable, &memoryResult{
		Id:        record.Id,
		StartKey:  orderKey(record.StartTime, record.Id),
		EventName: record.EventName(),
		Success:   record.Success,
		Record:    record,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryResultStore) CountResults(_ context.Context) (int64, error) {
	return s.count(idIndex)
}

func (s *MemoryResultStore) CountResultsByEventName(_ context.Context, eventName string) (int64, error) {
	return s.count(eventNameIndex, eventName)
}

func (s *MemoryResultStore) CountResultsBySuccess(_ context.Context) (int64, error) {
	return s.count(successIndex, true)
}

func (s *MemoryResultStore) CountResultsByFailure(_ context.Context) (int64, error) {
	return s.count(successIndex, false)
}

func (s *MemoryResultStore) GetFirstResult(_ context.Context) (*event.EventRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(resultsTable, startIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*memoryResult).Record, nil
}

func (s *MemoryResultStore) GetLastResult(_ context.Context) (*event.EventRecord, error) {
	records, err := s.ordered(func(r *memoryResult) bool { return true })
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[len(records)-1], nil
}

func (s *MemoryResultStore) GetResultsByEventName(_ context.Context, eventName string, skip int, limit int) ([]*event.EventRecord, error) {
	records, err := s.ordered(func(r *memoryResult) bool { return r.EventName == eventName })
	if err != nil {
		return nil, err
	}
	return page(records, skip, limit), nil
}

func (s *MemoryResultStore) GetResults(_ context.Context, from time.Time, to time.Time, chartOnly bool, skip int, limit int) ([]*event.EventRecord, error) {
	records, err := s.ordered(func(r *memoryResult) bool {
		if chartOnly && !r.Record.Chart {
			return false
		}
		return !r.Record.StartTime.Before(from) && r.Record.StartTime.Before(to)
	})
	if err != nil {
		return nil, err
	}
	return page(records, skip, limit), nil
}

func (s *MemoryResultStore) GetEventNames(_ context.Context) ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(resultsTable, eventNameIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	names := map[string]bool{}
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		names[obj.(*memoryResult).EventName] = true
	}
	result := maps.Keys(names)
	slices.Sort(result)
	return result, nil
}

func (s *MemoryResultStore) Clear(_ context.Context) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(resultsTable, idIndex); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryResultStore) count(index string, args ...interface{}) (int64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(resultsTable, index, args...)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var count int64
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		count++
	}
	return count, nil
}

func (s *MemoryResultStore) ordered(filter func(r *memoryResult) bool) ([]*event.EventRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(resultsTable, startIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	records := make([]*event.EventRecord, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		r := obj.(*memoryResult)
		if filter(r) {
			records = append(records, r.Record)
		}
	}
	return records, nil
}

// page applies skip and limit; a non-positive limit means no limit.
func page(records []*event.EventRecord, skip int, limit int) []*event.EventRecord {
	if skip >= len(records) {
		return []*event.EventRecord{}
	}
	if skip > 0 {
		records = records[skip:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func memoryResultSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex, // lookup by primary key
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Id"},
	}
	indexes[startIndex] = &memdb.IndexSchema{
		Name:    startIndex,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "StartKey"},
	}
	indexes[eventNameIndex] = &memdb.IndexSchema{
		Name:         eventNameIndex,
		Unique:       false,
		AllowMissing: true,
		Indexer:      &memdb.StringFieldIndex{Field: "EventName"},
	}
	indexes[successIndex] = &memdb.IndexSchema{
		Name:    successIndex,
		Unique:  false,
		Indexer: &memdb.BoolFieldIndex{Field: "Success"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			resultsTable: {
				Name:    resultsTable,
				Indexes: indexes,
			},
		},
	}
}
