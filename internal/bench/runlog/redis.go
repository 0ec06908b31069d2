package runlog

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const (
	runLogKeyPrefix    = "runlog:"
	DefaultRedisLength = 10000
)

// RedisSink keeps the newest entries of each run in a capped list, newest first.
type RedisSink struct {
	db     redis.UniversalClient
	prefix string
	length int64
}

func NewRedisSink(db redis.UniversalClient, prefix string, length int64) *RedisSink {
	if length <= 0 {
		length = DefaultRedisLength
	}
	return &RedisSink{db: db, prefix: prefix, length: length}
}

func (s *RedisSink) Write(entry *Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}
	key := s.Key(entry.RunId)
	pipe := s.db.TxPipeline()
	pipe.LPush(key, body)
	pipe.LTrim(key, 0, s.length-1)
	_, err = pipe.Exec()
	return errors.Wrap(err, "error writing run log to redis")
}

// Read returns up to count of the newest entries of a run, newest first.
func (s *RedisSink) Read(runId string, count int64) ([]*Entry, error) {
	values, err := s.db.LRange(s.Key(runId), 0, count-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading run log from redis")
	}
	entries := make([]*Entry, 0, len(values))
	for _, v := range values {
		entry := &Entry{}
		if err := json.Unmarshal([]byte(v), entry); err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisSink) Key(runId string) string {
	if s.prefix == "" {
		return runLogKeyPrefix + runId
	}
	return s.prefix + ":" + runLogKeyPrefix + runId
}
