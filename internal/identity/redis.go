package identity

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the mapping in a redis hash, for deployments where the
// scanning API and the enrollment job run on different hosts and a shared
// file is not an option.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store under the given hash key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "chamada:tokens"
	}
	return &RedisStore{client: client, key: key}
}

// Load reads the full hash. A missing key yields an empty mapping.
func (s *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	tokens, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Save rewrites the hash wholesale, mirroring the file backend's
// full-rewrite semantics so stale tokens do not linger.
func (s *RedisStore) Save(ctx context.Context, tokens map[string]string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	if len(tokens) > 0 {
		flat := make(map[string]interface{}, len(tokens))
		for k, v := range tokens {
			flat[k] = v
		}
		pipe.HSet(ctx, s.key, flat)
	}
	_, err := pipe.Exec(ctx)
	return err
}
