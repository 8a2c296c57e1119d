package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when an optimistic Redis transaction keeps
// losing to concurrent writers.
var ErrContention = errors.New("rate limit entry contention")

const defaultRedisPrefix = "sentinel:ratelimit:"

// RedisStore shares entries between gateway instances. Updates use
// WATCH/MULTI so concurrent checks on one key never lose increments.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	retain     time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRetain keeps idle entries around this long past expiry so violation
// history survives for escalation.
func WithRetain(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retain = d }
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix, maxRetries: 10, retain: time.Hour}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply implements EntryStore.
func (s *RedisStore) Apply(ctx context.Context, key string, fn UpdateFunc) (*Entry, error) {
	k := s.prefix + key
	var result *Entry

	txf := func(tx *redis.Tx) error {
		cur, err := s.read(ctx, tx, k)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		var payload []byte
		if next != nil {
			if payload, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode entry: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, k)
				return nil
			}
			pipe.Set(ctx, k, payload, s.ttl(next))
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrContention
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, k string) (*Entry, error) {
	raw, err := c.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", k, err)
	}
	return &e, nil
}

func (s *RedisStore) ttl(e *Entry) time.Duration {
	d := time.Until(e.expiresAt()) + s.retain
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Get implements EntryStore.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	return s.read(ctx, s.client, s.prefix+key)
}

// Delete implements EntryStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Sweep implements EntryStore. Redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// List implements EntryStore.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		e, err := s.read(ctx, s.client, iter.Val())
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
