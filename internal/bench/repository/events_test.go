package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/eventbench/internal/bench/event"
	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
	"github.com/G-Research/eventbench/internal/common/config"
	"github.com/G-Research/eventbench/internal/common/util"
)

var baseTime = time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

type eventStoreFactory func(local *event.LocalDataStore, clock util.Clock) EventStore

// withEventStores runs action against every EventStore implementation available in this environment.
func withEventStores(t *testing.T, action func(t *testing.T, newStore eventStoreFactory)) {
	t.Run("memory", func(t *testing.T) {
		action(t, func(local *event.LocalDataStore, clock util.Clock) EventStore {
			store, err := NewMemoryEventStore(local, time.Minute, clock)
			require.NoError(t, err)
			return store
		})
	})
	t.Run("redis", func(t *testing.T) {
		withRedis(func(client *redis.Client) {
			action(t, func(local *event.LocalDataStore, clock util.Clock) EventStore {
				return NewRedisEventStore(client, "test", local, time.Minute, clock)
			})
		})
	})
	t.Run("postgres", func(t *testing.T) {
		withPostgres(t, func(db *pgxpool.Pool) {
			action(t, func(local *event.LocalDataStore, clock util.Clock) EventStore {
				store := NewPostgresEventStore(db, local, time.Minute, clock)
				require.NoError(t, store.Clear(context.Background()))
				return store
			})
		})
	})
}

func TestEventStore_PutAndCount(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		store := newStore(event.NewLocalDataStore(), util.NewDummyClock(baseTime))

		id, err := store.Put(ctx, event.New("login", baseTime, map[string]interface{}{"user": "bob"}))
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		stored, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "login", stored.Name)
		assert.Equal(t, map[string]interface{}{"user": "bob"}, stored.Data)

		missing, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestEventStore_StartEventIsUnique(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		store := newStore(event.NewLocalDataStore(), util.NewDummyClock(baseTime))

		id, err := store.Put(ctx, event.NewStart(baseTime))
		require.NoError(t, err)
		assert.Equal(t, event.StartEventId, id)

		_, err = store.Put(ctx, event.NewStart(baseTime))
		assert.True(t, benchmarkerrors.IsAlreadyExists(err))

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestEventStore_ClaimsEarliestDueEvent(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		store := newStore(event.NewLocalDataStore(), util.NewDummyClock(baseTime))

		_, err := store.Put(ctx, event.New("later", baseTime.Add(-time.Second), nil))
		require.NoError(t, err)
		_, err = store.Put(ctx, event.New("earlier", baseTime.Add(-time.Minute), nil))
		require.NoError(t, err)
		_, err = store.Put(ctx, event.New("future", baseTime.Add(time.Hour), nil))
		require.NoError(t, err)

		first, err := store.ClaimNext(ctx, "driver-1", baseTime)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "earlier", first.Name)
		assert.NotEmpty(t, first.LockOwner)

		second, err := store.ClaimNext(ctx, "driver-1", baseTime)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "later", second.Name)

		none, err := store.ClaimNext(ctx, "driver-1", baseTime)
		require.NoError(t, err)
		assert.Nil(t, none)

		// Claiming does not remove events; only Delete does.
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		deleted, err := store.Delete(ctx, first)
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = store.Delete(ctx, first)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestEventStore_DriverAffinity(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		store := newStore(event.NewLocalDataStore(), util.NewDummyClock(baseTime))

		pinned := event.New("pinned", baseTime.Add(-time.Minute), nil)
		pinned.Driver = "driver-2"
		_, err := store.Put(ctx, pinned)
		require.NoError(t, err)

		claimed, err := store.ClaimNext(ctx, "driver-1", baseTime)
		require.NoError(t, err)
		assert.Nil(t, claimed)

		// An empty driver id matches any driver; this is the grace period sweep.
		claimed, err = store.ClaimNext(ctx, "", baseTime)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, "driver-2", claimed.Driver)
	})
}

func TestEventStore_LockExpiry(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		clock := util.NewDummyClock(baseTime)
		store := newStore(event.NewLocalDataStore(), clock)

		_, err := store.Put(ctx, event.New("login", baseTime, nil))
		require.NoError(t, err)

		claimed, err := store.ClaimNext(ctx, "driver-1", baseTime)
		require.NoError(t, err)
		require.NotNil(t, claimed)

		clock.Advance(30 * time.Second)
		again, err := store.ClaimNext(ctx, "driver-1", clock.Now())
		require.NoError(t, err)
		assert.Nil(t, again)

		clock.Advance(time.Minute)
		again, err = store.ClaimNext(ctx, "driver-1", clock.Now())
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, claimed.Id, again.Id)
	})
}

func TestEventStore_LocalDataStaysWithOwner(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		clock := util.NewDummyClock(baseTime)
		ownerLocal := event.NewLocalDataStore()
		owner := newStore(ownerLocal, clock)
		other := newStore(event.NewLocalDataStore(), clock)

		local := event.New("upload", baseTime, []byte("local payload"))
		local.DataLocal = true
		_, err := owner.Put(ctx, local)
		require.NoError(t, err)
		assert.Equal(t, 1, ownerLocal.Count())

		claimed, err := other.ClaimNext(ctx, "", baseTime)
		require.NoError(t, err)
		assert.Nil(t, claimed)

		claimed, err = owner.ClaimNext(ctx, "", baseTime)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, []byte("local payload"), claimed.Data)

		_, err = owner.Delete(ctx, claimed)
		require.NoError(t, err)
		assert.Equal(t, 0, ownerLocal.Count())
	})
}

func TestEventStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		clock := util.NewDummyClock(baseTime)
		store := newStore(event.NewLocalDataStore(), clock)

		const events = 50
		for i := 0; i < events; i++ {
			_, err := store.Put(ctx, event.New("login", baseTime.Add(-time.Duration(i)*time.Millisecond), nil))
			require.NoError(t, err)
		}

		var mu sync.Mutex
		seen := map[string]int{}
		wg := sync.WaitGroup{}
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					e, err := store.ClaimNext(ctx, "", baseTime)
					if err != nil || e == nil {
						return
					}
					mu.Lock()
					seen[e.Id]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, events)
		for id, n := range seen {
			assert.Equal(t, 1, n, "event %s claimed %d times", id, n)
		}
	})
}

func TestEventStore_Clear(t *testing.T) {
	withEventStores(t, func(t *testing.T, newStore eventStoreFactory) {
		ctx := context.Background()
		store := newStore(event.NewLocalDataStore(), util.NewDummyClock(baseTime))
		_, err := store.Put(ctx, event.New("login", baseTime, nil))
		require.NoError(t, err)
		require.NoError(t, store.Clear(ctx))
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func withRedis(action func(client *redis.Client)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()
	action(client)
}

// withPostgres runs action against the database at EVENTBENCH_POSTGRES_HOST and skips the test if it is unset.
func withPostgres(t *testing.T, action func(db *pgxpool.Pool)) {
	host := os.Getenv("EVENTBENCH_POSTGRES_HOST")
	if host == "" {
		t.Skip("EVENTBENCH_POSTGRES_HOST not set")
	}
	ctx := context.Background()
	db, err := OpenPgxPool(ctx, config.PostgresConfig{
		Connection: map[string]string{
			"host":     host,
			"port":     "5432",
			"user":     "postgres",
			"password": "psw",
			"dbname":   "postgres",
			"sslmode":  "disable",
		},
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, UpdateDatabase(ctx, db))
	action(db)
}
