package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erp/nfse-bridge/internal/domain/integration"
)

const defaultNoncePrefix = "nfse:oauth:nonce:"

// RedisNonceStore implements NonceStore using Redis, so the authorization
// callback may land on any instance of the service.
type RedisNonceStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisNonceStore creates a store on an existing Redis client
func NewRedisNonceStore(client redis.UniversalClient, keyPrefix string) *RedisNonceStore {
	if keyPrefix == "" {
		keyPrefix = defaultNoncePrefix
	}
	return &RedisNonceStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Add stores the nonce with a TTL. SETNX keeps a colliding nonce from
// extending an existing one.
func (s *RedisNonceStore) Add(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+nonce, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization nonce: %w", err)
	}
	if !ok {
		return fmt.Errorf("authorization nonce already exists")
	}
	return nil
}

// Consume atomically reads and deletes the nonce with GETDEL
func (s *RedisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.keyPrefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume authorization nonce: %w", err)
	}
	return true, nil
}

// Ensure RedisNonceStore implements NonceStore
var _ integration.NonceStore = (*RedisNonceStore)(nil)
