package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	docKeyPrefix   = "doc:"
	indexKeyPrefix = "docs:"
	changeChPrefix = "docchg:"
)

// RedisStore keeps each document as a string key and each collection's ids in
// a set. Transactions use WATCH/MULTI/EXEC and are retried when a watched key
// changes underneath them.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
	log        *slog.Logger
}

func NewRedisStore(client *redis.Client, maxRetries int, log *slog.Logger) *RedisStore {
	if maxRetries <= 0 {
		maxRetries = DefaultTxRetries
	}
	return &RedisStore{client: client, maxRetries: maxRetries, log: log}
}

func redisDocKey(collection, id string) string { return docKeyPrefix + collection + ":" + id }
func redisIndexKey(collection string) string   { return indexKeyPrefix + collection }
func redisChannel(collection, id string) string {
	return changeChPrefix + collection + ":" + id
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisDocKey(collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, data []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDocKey(collection, id), data, 0)
		pipe.SAdd(ctx, redisIndexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	s.publish(ctx, stagedWrite{collection: collection, id: id, data: data})
	return nil
}

func (s *RedisStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var writes []stagedWrite
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{rtx: rtx, staged: newStaging()}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			writes = tx.staged.writes()
			if len(writes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range writes {
					pipe.Set(ctx, redisDocKey(w.collection, w.id), w.data, 0)
					pipe.SAdd(ctx, redisIndexKey(w.collection), w.id)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("redis transaction conflict, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}
		for _, w := range writes {
			s.publish(ctx, w)
		}
		return nil
	}
	return ErrConflict
}

func (s *RedisStore) publish(ctx context.Context, w stagedWrite) {
	if err := s.client.Publish(ctx, redisChannel(w.collection, w.id), w.data).Err(); err != nil {
		s.log.Warn("publish document change", "collection", w.collection, "id", w.id, "error", err)
	}
}

func (s *RedisStore) Subscribe(ctx context.Context, collection, id string, onChange func([]byte)) (func(), error) {
	ps := s.client.Subscribe(ctx, redisChannel(collection, id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s/%s: %w", collection, id, err)
	}

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			onChange([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	closeSub := func() {
		if err := ps.Close(); err != nil {
			s.log.Warn("close subscription", "collection", collection, "id", id, "error", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { once.Do(closeSub) })
	return func() {
		stop()
		once.Do(closeSub)
	}, nil
}

func (s *RedisStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", collection, err)
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisDocKey(collection, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s documents: %w", collection, err)
	}

	docs := make([]Document, 0, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			docs = append(docs, Document{ID: ids[i], Data: []byte(str)})
		}
	}
	return apply(docs, q)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type redisTx struct {
	rtx    *redis.Tx
	staged *staging
}

// Get watches the key before reading it so a concurrent write aborts EXEC.
func (t *redisTx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if data, ok := t.staged.get(collection, id); ok {
		return clone(data), nil
	}
	key := redisDocKey(collection, id)
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", collection, id, err)
	}
	data, err := t.rtx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

func (t *redisTx) Set(collection, id string, data []byte) {
	t.staged.set(collection, id, clone(data))
}
