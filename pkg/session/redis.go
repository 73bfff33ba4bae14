package session

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each session in a Redis hash keyed by the hashed session
// ID. Every write refreshes the TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// New creates an empty session
func (s *RedisStore) New(ctx context.Context) (Session, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	sess := &redisSession{store: s, id: id, key: s.prefix + HashID(id)}
	created := strconv.FormatInt(time.Now().Unix(), 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sess.key, KeyCreatedAt, created)
		if s.ttl > 0 {
			pipe.Expire(ctx, sess.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("create", err)
	}
	return sess, nil
}

// Load returns an existing session
func (s *RedisStore) Load(ctx context.Context, id string) (Session, error) {
	if !ValidID(id) {
		return nil, ErrSessionNotFound
	}

	key := s.prefix + HashID(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, wrap("load", err)
	}
	if n == 0 {
		return nil, ErrSessionNotFound
	}
	return &redisSession{store: s, id: id, key: key}, nil
}

type redisSession struct {
	store *RedisStore
	id    string
	key   string
}

func (r *redisSession) ID() string {
	return r.id
}

func (r *redisSession) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.store.client.HGet(ctx, r.key, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("read", err)
	}
	return v, true, nil
}

func (r *redisSession) Set(ctx context.Context, key, value string) error {
	return r.Update(ctx, map[string]string{key: value})
}

func (r *redisSession) Delete(ctx context.Context, keys ...string) error {
	return r.Update(ctx, nil, keys...)
}

func (r *redisSession) Update(ctx context.Context, set map[string]string, del ...string) error {
	if len(set) == 0 && len(del) == 0 {
		return nil
	}

	_, err := r.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			values := make([]interface{}, 0, len(set)*2)
			for k, v := range set {
				values = append(values, k, v)
			}
			pipe.HSet(ctx, r.key, values...)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, r.key, del...)
		}
		if r.store.ttl > 0 {
			pipe.Expire(ctx, r.key, r.store.ttl)
		}
		return nil
	})
	return wrap("update", err)
}

func (r *redisSession) Destroy(ctx context.Context) error {
	return wrap("destroy", r.store.client.Del(ctx, r.key).Err())
}
