package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

const redisKeyPrefix = "tracker:room:"

// maxPutRetries bounds optimistic retries when another writer touches the
// key between WATCH and EXEC.
const maxPutRetries = 8

// RedisStore keeps each room's snapshot as one JSON value.
type RedisStore struct {
	rdb   *redis.Client
	clock clockwork.Clock
	newID func() string
}

func NewRedisStore(rdb *redis.Client, clock clockwork.Clock) *RedisStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisStore{rdb: rdb, clock: clock, newID: NewRoomID}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) Create(ctx context.Context) (string, tally.Snapshot, error) {
	for range maxIDAttempts {
		id := r.newID()
		s := tally.NewDefault(r.clock.Now())
		ok, err := r.rdb.SetNX(ctx, redisKey(id), s, 0).Result()
		if err != nil {
			return "", tally.Snapshot{}, fmt.Errorf("create room: %w", err)
		}
		if ok {
			return id, s, nil
		}
	}
	return "", tally.Snapshot{}, ErrIDExhausted
}

func (r *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, redisKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("room exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (tally.Snapshot, error) {
	key := redisKey(id)
	if err := r.rdb.SetNX(ctx, key, tally.NewDefault(r.clock.Now()), 0).Err(); err != nil {
		return tally.Snapshot{}, fmt.Errorf("init room: %w", err)
	}
	var s tally.Snapshot
	if err := r.rdb.Get(ctx, key).Scan(&s); err != nil {
		return tally.Snapshot{}, fmt.Errorf("load room: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Put(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error) {
	key := redisKey(id)
	var saved tally.Snapshot

	txf := func(tx *redis.Tx) error {
		var prev tally.Snapshot
		err := tx.Get(ctx, key).Scan(&prev)
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next := tally.Normalize(s)
		next.LastUpdated = nextStamp(r.clock.Now().UnixMilli(), prev.LastUpdated)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			saved = next
		}
		return err
	}

	for range maxPutRetries {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return saved, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return tally.Snapshot{}, fmt.Errorf("save room: %w", err)
	}
	return tally.Snapshot{}, fmt.Errorf("save room: %w", redis.TxFailedErr)
}

func (r *RedisStore) Sync(ctx context.Context, id string, watermark int64) (SyncResult, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	return syncResult(s, watermark), nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
