package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	driversKey  = "drivers"
	runStateKey = "runs:state"
	scheduleKey = "runs:scheduled"
)

// Moves a run to a new state only if it is still in the expected one.
// An empty expected state matches runs that have no state yet.
const compareAndSetStateScript = `
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false then
	current = ''
end
if current ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
if ARGV[4] then
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
end
return 1
`

// RedisDriverRegistry keeps driver heartbeats in a sorted set scored by heartbeat time.
type RedisDriverRegistry struct {
	db      redis.UniversalClient
	prefix  string
	timeout time.Duration
	clock   util.Clock
}

func NewRedisDriverRegistry(db redis.UniversalClient, prefix string, timeout time.Duration, clock util.Clock) *RedisDriverRegistry {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if timeout <= 0 {
		timeout = DefaultDriverTimeout
	}
	return &RedisDriverRegistry{db: db, prefix: prefix, timeout: timeout, clock: clock}
}

func (r *RedisDriverRegistry) Register(_ context.Context, driverId string) error {
	score := float64(util.MillisSinceEpoch(r.clock.Now()))
	err := r.db.ZAdd(r.key(), redis.Z{Score: score, Member: driverId}).Err()
	return errors.Wrap(err, "error writing to database")
}

func (r *RedisDriverRegistry) Unregister(_ context.Context, driverId string) error {
	return errors.Wrap(r.db.ZRem(r.key(), driverId).Err(), "error writing to database")
}

// ActiveDrivers also drops drivers whose heartbeat has expired.
func (r *RedisDriverRegistry) ActiveDrivers(_ context.Context) ([]string, error) {
	cutoff := util.MillisSinceEpoch(r.clock.Now().Add(-r.timeout))
	pipe := r.db.TxPipeline()
	pipe.ZRemRangeByScore(r.key(), "-inf", "("+strconv.FormatInt(cutoff, 10))
	members := pipe.ZRangeByScore(r.key(), redis.ZRangeBy{Min: strconv.FormatInt(cutoff, 10), Max: "+inf"})
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "error reading from database")
	}
	drivers := members.Val()
	slices.Sort(drivers)
	return drivers, nil
}

func (r *RedisDriverRegistry) key() string {
	return r.prefix + redisKeySeparator + driversKey
}

// RedisRunStateStore keeps the state of every run in one hash.
type RedisRunStateStore struct {
	db     redis.UniversalClient
	prefix string
}

func NewRedisRunStateStore(db redis.UniversalClient, prefix string) *RedisRunStateStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRunStateStore{db: db, prefix: prefix}
}

func (s *RedisRunStateStore) GetState(_ context.Context, runId string) (string, error) {
	state, err := s.db.HGet(s.key(), runId).Result()
	if err == redis.Nil {
		return "", nil
	} else if err != nil {
		return "", errors.Wrap(err, "error reading from database")
	}
	return state, nil
}

func (s *RedisRunStateStore) CompareAndSetState(_ context.Context, runId string, from string, to string) (bool, error) {
	result, err := s.db.Eval(compareAndSetStateScript, []string{s.key(), s.scheduleKey()}, runId, from, to).Int64()
	if err != nil {
		return false, errors.Wrap(err, "error writing to database")
	}
	return result == 1, nil
}

// CompareAndSetSchedule stores the start time in milliseconds since the epoch, in the same script as the state.
func (s *RedisRunStateStore) CompareAndSetSchedule(_ context.Context, runId string, from string, to string, at time.Time) (bool, error) {
	millis := util.MillisSinceEpoch(at)
	result, err := s.db.Eval(compareAndSetStateScript, []string{s.key(), s.scheduleKey()}, runId, from, to, millis).Int64()
	if err != nil {
		return false, errors.Wrap(err, "error writing to database")
	}
	return result == 1, nil
}

func (s *RedisRunStateStore) GetScheduledTime(_ context.Context, runId string) (time.Time, error) {
	millis, err := s.db.HGet(s.scheduleKey(), runId).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	} else if err != nil {
		return time.Time{}, errors.Wrap(err, "error reading from database")
	}
	return util.FromMillis(millis), nil
}

func (s *RedisRunStateStore) scheduleKey() string {
	return s.prefix + redisKeySeparator + scheduleKey
}

func (s *RedisRunStateStore) key() string {
	return s.prefix + redisKeySeparator + runStateKey
}
