package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_ApplyGetDelete(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	e, err := store.Apply(ctx, "api|192.0.2.1", func(cur *Entry) (*Entry, error) {
		assert.Nil(t, cur)
		return &Entry{Key: "192.0.2.1", Count: 1, WindowStart: now, WindowEnd: now.Add(time.Minute)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)
	assert.True(t, mr.Exists("sentinel:ratelimit:api|192.0.2.1"))
	assert.Greater(t, mr.TTL("sentinel:ratelimit:api|192.0.2.1"), time.Minute)

	got, err := store.Get(ctx, "api|192.0.2.1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "192.0.2.1", got.Key)

	entries, err := store.List(ctx, "api|")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, store.Delete(ctx, "api|192.0.2.1"))
	got, err = store.Get(ctx, "api|192.0.2.1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_LimiterBruteForce(t *testing.T) {
	store, _ := newRedisStore(t)
	l, events, _ := newTestLimiter(store, WithBackendName("redis"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, l.CheckStore(ctx, loginRequest("203.0.113.7"), StoreAuth).Allowed)
	}
	d := l.CheckStore(ctx, loginRequest("203.0.113.7"), StoreAuth)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfterSeconds(), 0)
	assert.Len(t, events.actions(), 1)
}

func TestRedisStore_ConcurrentIncrements(t *testing.T) {
	store, _ := newRedisStore(t)
	l, _, _ := newTestLimiter(store)
	cfg := Config{MaxRequests: 1000, Window: time.Hour}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Check(context.Background(), RequestContext{ClientIP: "192.0.2.77", Path: "/api"}, cfg, StoreAPI)
		}()
	}
	wg.Wait()

	e, err := store.Get(context.Background(), storeKey(StoreAPI, "192.0.2.77"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 8, e.Count)
}

func TestRedisStore_UnavailableAdmits(t *testing.T) {
	store, mr := newRedisStore(t)
	l, _, _ := newTestLimiter(store)
	mr.Close()

	d := l.CheckStore(context.Background(), loginRequest("203.0.113.8"), StoreAuth)
	assert.True(t, d.Allowed)
	assert.Equal(t, OutcomeDegraded, d.Outcome)
	assert.Error(t, store.Ping(context.Background()))
}
