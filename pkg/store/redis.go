package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxline-ai/voxline/pkg/core/call"
)

const redisKeyPrefix = "session:"

// RedisStore keeps live sessions in Redis as JSON values under
// "session:<call_sid>". It is the production Store.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL dials Redis from a redis:// URL.
func NewRedisStoreFromURL(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, &SessionStoreError{Op: "dial", Key: rawURL, Err: err}
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func redisKey(callID string) string { return redisKeyPrefix + callID }

func (s *RedisStore) Get(ctx context.Context, callID string) (*call.Session, error) {
	raw, err := s.client.Get(ctx, redisKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &SessionStoreError{Op: "get", Key: callID, Err: err}
	}
	var sess call.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, &SessionStoreError{Op: "get", Key: callID, Err: err}
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *call.Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return &SessionStoreError{Op: "put", Key: sess.CallID, Err: err}
	}
	if err := s.client.Set(ctx, redisKey(sess.CallID), raw, ttl).Err(); err != nil {
		return &SessionStoreError{Op: "put", Key: sess.CallID, Err: err}
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.client.Del(ctx, redisKey(callID)).Err(); err != nil {
		return &SessionStoreError{Op: "delete", Key: callID, Err: err}
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }
