package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the checkpoint in one hash: field = entity key, value =
// the JSON entry. Save replaces the hash inside MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore parses a redis:// URL and returns a store using hash key.
func NewRedisStore(redisURL, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), key: key}, nil
}

// Ping verifies the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Load(ctx context.Context) (State, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint hash %s: %w", s.key, err)
	}

	state := make(State, len(fields))
	for k, v := range fields {
		var entry Entry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrCorrupt, k, err)
		}
		state[k] = entry
	}
	return state, nil
}

func (s *RedisStore) Save(ctx context.Context, state State) error {
	values := make([]any, 0, len(state)*2)
	for k, entry := range state {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode checkpoint %s: %w", k, err)
		}
		values = append(values, k, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write checkpoint hash %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
