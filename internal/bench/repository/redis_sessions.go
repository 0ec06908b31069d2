package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/util"
)

const (
	sessionKeyPrefix       = "session:"
	activeSessionsKey      = "sessions:active"
	completedSessionsKey   = "sessions:completed"
	sessionStartField      = "start"
	sessionEndField        = "end"
	sessionDataField       = "data"
	sessionEndResultEnded  = 1
	sessionEndResultAbsent = -1
)

// Ends a session once: -1 when it does not exist, 0 when it already ended, 1 otherwise.
const endSessionScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HSETNX', KEYS[1], 'end', ARGV[2]) == 0 then
	return 0
end
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('INCR', KEYS[3])
return 1
`

// RedisSessionService keeps one hash per session plus a set of active session ids and a
// counter of completed sessions.
type RedisSessionService struct {
	db     redis.UniversalClient
	prefix string
	clock  util.Clock
}

func NewRedisSessionService(db redis.UniversalClient, prefix string, clock util.Clock) *RedisSessionService {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisSessionService{db: db, prefix: prefix, clock: clock}
}

func (s *RedisSessionService) StartSession(_ context.Context, data interface{}) (string, error) {
	id := util.NewUUID()
	fields := map[string]interface{}{
		sessionStartField: util.MillisSinceEpoch(s.clock.Now()),
	}
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return "", errors.WithStack(err)
		}
		fields[sessionDataField] = bytes
	}

	pipe := s.db.TxPipeline()
	pipe.HMSet(s.sessionKey(id), fields)
	pipe.SAdd(s.key(activeSessionsKey), id)
	if _, err := pipe.Exec(); err != nil {
		return "", errors.Wrap(err, "error writing to database")
	}
	return id, nil
}

func (s *RedisSessionService) EndSession(_ context.Context, sessionId string) error {
	result, err := s.db.Eval(
		endSessionScript,
		[]string{s.sessionKey(sessionId), s.key(activeSessionsKey), s.key(completedSessionsKey)},
		sessionId, util.MillisSinceEpoch(s.clock.Now()),
	).Int64()
	if err != nil {
		return errors.Wrap(err, "error writing to database")
	}
	switch result {
	case sessionEndResultAbsent:
		return errors.WithStack(&benchmarkerrors.ErrNotFound{Type: "session", Value: sessionId})
	case sessionEndResultEnded:
		return nil
	default:
		return errors.WithStack(&benchmarkerrors.ErrAlreadyExists{
			Type:    "session end",
			Value:   sessionId,
			Message: "session has already ended",
		})
	}
}

func (s *RedisSessionService) SetSessionData(_ context.Context, sessionId string, data interface{}) error {
	exists, err := s.db.Exists(s.sessionKey(sessionId)).Result()
	if err != nil {
		return errors.Wrap(err, "error reading from database")
	}
	if exists == 0 {
		return errors.WithStack(&benchmarkerrors.ErrNotFound{Type: "session", Value: sessionId})
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(s.db.HSet(s.sessionKey(sessionId), sessionDataField, bytes).Err(), "error writing to database")
}

func (s *RedisSessionService) GetSessionData(_ context.Context, sessionId string) (interface{}, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return nil, err
	}
	return session.Data, nil
}

func (s *RedisSessionService) GetSessionStartTime(_ context.Context, sessionId string) (time.Time, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return time.Time{}, err
	}
	return session.StartTime, nil
}

func (s *RedisSessionService) GetSessionEndTime(_ context.Context, sessionId string) (time.Time, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return time.Time{}, err
	}
	return session.EndTime, nil
}

func (s *RedisSessionService) GetSessionElapsedTime(_ context.Context, sessionId string) (time.Duration, error) {
	session, err := s.get(sessionId)
	if err != nil {
		return 0, err
	}
	return elapsed(session, s.clock.Now()), nil
}

func (s *RedisSessionService) ActiveSessionsCount(_ context.Context) (int64, error) {
	count, err := s.db.SCard(s.key(activeSessionsKey)).Result()
	return count, errors.Wrap(err, "error reading from database")
}

func (s *RedisSessionService) CompletedSessionsCount(_ context.Context) (int64, error) {
	count, err := s.db.Get(s.key(completedSessionsKey)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, errors.Wrap(err, "error reading from database")
}

func (s *RedisSessionService) get(sessionId string) (*Session, error) {
	fields, err := s.db.HGetAll(s.sessionKey(sessionId)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading from database")
	}
	if len(fields) == 0 {
		return nil, errors.WithStack(&benchmarkerrors.ErrNotFound{Type: "session", Value: sessionId})
	}

	session := &Session{Id: sessionId}
	if start, ok := fields[sessionStartField]; ok {
		ms, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		session.StartTime = util.FromMillis(ms)
	}
	if end, ok := fields[sessionEndField]; ok {
		ms, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		session.EndTime = util.FromMillis(ms)
	}
	if data, ok := fields[sessionDataField]; ok {
		var decoded interface{}
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return nil, errors.WithStack(err)
		}
		session.Data = decoded
	}
	return session, nil
}

func (s *RedisSessionService) key(name string) string {
	return s.prefix + redisKeySeparator + name
}

func (s *RedisSessionService) sessionKey(sessionId string) string {
	return s.key(sessionKeyPrefix + sessionId)
}

