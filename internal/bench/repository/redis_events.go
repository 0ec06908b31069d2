package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	eventBodyKey       = "events"
	eventQueueKey      = "events:queue"
	eventDriverKey     = "events:driver"
	eventOwnerKey      = "events:owner"
	eventLockTimeKey   = "events:lockTime"
	eventLockOwnerKey  = "events:lockOwner"
	claimPageSize      = 100
	redisKeySeparator  = ":"
	defaultRedisPrefix = "eventbench"
)

// Inserts the event body and its queue entry unless the id is taken.
const putEventScript = `
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
if ARGV[4] ~= '' then
	redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
end
if ARGV[5] ~= '' then
	redis.call('HSET', KEYS[4], ARGV[1], ARGV[5])
end
return 1
`

// Walks the queue in score order and locks the first eligible event.
// KEYS: queue, driver, owner, lockTime, lockOwner
// ARGV: latest scheduled ms, driver id, owner id, now ms, lock timeout ms, page size
const claimEventScript = `
local latest = ARGV[1]
local now = tonumber(ARGV[4])
local lockTimeout = tonumber(ARGV[5])
local pageSize = tonumber(ARGV[6])
local offset = 0
while true do
	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', latest, 'LIMIT', offset, pageSize)
	if #ids == 0 then
		return false
	end
	for _, id in ipairs(ids) do
		local available = true
		local lockedAt = redis.call('HGET', KEYS[4], id)
		if lockedAt and tonumber(lockedAt) + lockTimeout > now then
			available = false
		end
		if available then
			local owner = redis.call('HGET', KEYS[3], id)
			if owner and owner ~= ARGV[3] then
				available = false
			end
		end
		if available and ARGV[2] ~= '' then
			local driver = redis.call('HGET', KEYS[2], id)
			if driver and driver ~= ARGV[2] then
				available = false
			end
		end
		if available then
			redis.call('HSET', KEYS[4], id, ARGV[4])
			redis.call('HSET', KEYS[5], id, ARGV[3])
			return id
		end
	end
	offset = offset + pageSize
end
`

// RedisEventStore is an EventStore kept in a handful of Redis keys under a common prefix:
// a hash of JSON bodies, a sorted set ordered by scheduled time and hashes for driver pins,
// data owners and locks. Claims run as a single Lua script, so they are atomic across drivers.
type RedisEventStore struct {
	db          redis.UniversalClient
	prefix      string
	local       *event.LocalDataStore
	lockTimeout time.Duration
	clock       util.Clock
}

func NewRedisEventStore(db redis.UniversalClient, prefix string, local *event.LocalDataStore, lockTimeout time.Duration, clock util.Clock) *RedisEventStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &RedisEventStore{db: db, prefix: prefix, local: local, lockTimeout: lockTimeout, clock: clock}
}

func (s *RedisEventStore) Count(_ context.Context) (int64, error) {
	count, err := s.db.ZCard(s.key(eventQueueKey)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "error reading from database")
	}
	return count, nil
}

func (s *RedisEventStore) Put(_ context.Context, e *event.Event) (string, error) {
	stored, err := prepareForPut(e, s.local)
	if err != nil {
		return "", err
	}
	body, err := event.Marshal(stored)
	if err != nil {
		return "", err
	}

	result, err := s.db.Eval(
		putEventScript,
		[]string{s.key(eventBodyKey), s.key(eventQueueKey), s.key(eventDriverKey), s.key(eventOwnerKey)},
		stored.Id, body, util.MillisSinceEpoch(stored.ScheduledTime), stored.Driver, stored.DataOwner,
	).Int64()
	if err != nil {
		return "", errors.Wrap(err, "error writing to database")
	}
	if result == 0 {
		return "", errors.WithStack(&benchmarkerrors.ErrAlreadyExists{Type: "event", Value: stored.Id})
	}
	return stored.Id, nil
}

func (s *RedisEventStore) ClaimNext(_ context.Context, driverId string, latestScheduledTime time.Time) (*event.Event, error) {
	now := s.clock.Now()
	id, err := s.db.Eval(
		claimEventScript,
		[]string{s.key(eventQueueKey), s.key(eventDriverKey), s.key(eventOwnerKey), s.key(eventLockTimeKey), s.key(eventLockOwnerKey)},
		util.MillisSinceEpoch(latestScheduledTime),
		driverId,
		s.local.OwnerId(),
		util.MillisSinceEpoch(now),
		s.lockTimeout.Milliseconds(),
		claimPageSize,
	).String()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "error claiming event")
	}

	claimed, err := s.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, errors.Errorf("claimed event %s has no body", id)
	}
	if err := s.local.Attach(claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *RedisEventStore) Delete(_ context.Context, e *event.Event) (bool, error) {
	pipe := s.db.TxPipeline()
	deleted := pipe.HDel(s.key(eventBodyKey), e.Id)
	pipe.ZRem(s.key(eventQueueKey), e.Id)
	for _, k := range []string{eventDriverKey, eventOwnerKey, eventLockTimeKey, eventLockOwnerKey} {
		pipe.HDel(s.key(k), e.Id)
	}
	if _, err := pipe.Exec(); err != nil {
		return false, errors.Wrap(err, "error deleting event")
	}
	s.local.Release(e.Id)
	return deleted.Val() > 0, nil
}

func (s *RedisEventStore) Get(_ context.Context, id string) (*event.Event, error) {
	pipe := s.db.Pipeline()
	body := pipe.HGet(s.key(eventBodyKey), id)
	lockTime := pipe.HGet(s.key(eventLockTimeKey), id)
	lockOwner := pipe.HGet(s.key(eventLockOwnerKey), id)
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "error reading from database")
	}
	if body.Err() == redis.Nil {
		return nil, nil
	}

	e, err := event.Unmarshal([]byte(body.Val()))
	if err != nil {
		return nil, err
	}
	if lockTime.Err() == nil {
		ms, err := strconv.ParseInt(lockTime.Val(), 10, 64)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		e.LockTime = util.FromMillis(ms)
		e.LockOwner = lockOwner.Val()
	}
	return e, nil
}

func (s *RedisEventStore) Clear(_ context.Context) error {
	keys := []string{eventBodyKey, eventQueueKey, eventDriverKey, eventOwnerKey, eventLockTimeKey, eventLockOwnerKey}
	for i, k := range keys {
		keys[i] = s.key(k)
	}
	return errors.WithStack(s.db.Del(keys...).Err())
}

func (s *RedisEventStore) key(name string) string {
	return s.prefix + redisKeySeparator + name
}
