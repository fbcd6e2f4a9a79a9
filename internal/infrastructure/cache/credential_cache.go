package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/infrastructure/auth"
)

const (
	defaultCredentialPrefix = "nfse:credential:"
	defaultCredentialTTL    = 5 * time.Minute
)

// cachedCredential is the Redis form of a credential. Secrets stay sealed.
type cachedCredential struct {
	Credential   integration.Credential `json:"credential"`
	ClientSecret string                 `json:"client_secret"`
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token"`
}

// CachedCredentialStore is a read-through Redis layer over the persisted
// CredentialStore. Every write goes to the primary store first and then
// invalidates the cached entry, so instances never serve a replaced token set
// for longer than one read.
type CachedCredentialStore struct {
	primary   integration.CredentialStore
	client    redis.UniversalClient
	box       *auth.SecretBox
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCachedCredentialStore wraps primary with a Redis cache
func NewCachedCredentialStore(primary integration.CredentialStore, client redis.UniversalClient, box *auth.SecretBox, ttl time.Duration, logger *zap.Logger) *CachedCredentialStore {
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	return &CachedCredentialStore{
		primary:   primary,
		client:    client,
		box:       box,
		keyPrefix: defaultCredentialPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// Get returns the cached credential or loads it from the primary store.
// Cache failures degrade to the primary store.
func (s *CachedCredentialStore) Get(ctx context.Context, userKey string) (*integration.Credential, error) {
	key := s.key(userKey)

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if cred, decodeErr := s.decode(data); decodeErr == nil {
			return cred, nil
		}
		s.logger.Warn("Discarding unreadable cached credential", zap.String("user_key", userKey))
		s.invalidate(ctx, userKey)
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("Credential cache read failed", zap.Error(err))
	}

	cred, err := s.primary.Get(ctx, userKey)
	if err != nil || cred == nil {
		return cred, err
	}

	if encoded, encodeErr := s.encode(cred); encodeErr == nil {
		if setErr := s.client.Set(ctx, key, encoded, s.ttl).Err(); setErr != nil {
			s.logger.Warn("Credential cache write failed", zap.Error(setErr))
		}
	}
	return cred, nil
}

// Put persists the credential and invalidates the cached copy
func (s *CachedCredentialStore) Put(ctx context.Context, credential *integration.Credential) error {
	if err := s.primary.Put(ctx, credential); err != nil {
		return err
	}
	s.invalidate(ctx, credential.UserKey)
	return nil
}

// Delete removes the credential and its cached copy
func (s *CachedCredentialStore) Delete(ctx context.Context, userKey string) error {
	if err := s.primary.Delete(ctx, userKey); err != nil {
		return err
	}
	s.invalidate(ctx, userKey)
	return nil
}

func (s *CachedCredentialStore) key(userKey string) string {
	if userKey == "" {
		userKey = "default"
	}
	return s.keyPrefix + userKey
}

func (s *CachedCredentialStore) invalidate(ctx context.Context, userKey string) {
	if err := s.client.Del(ctx, s.key(userKey)).Err(); err != nil {
		s.logger.Warn("Credential cache invalidation failed", zap.String("user_key", userKey), zap.Error(err))
	}
}

func (s *CachedCredentialStore) encode(cred *integration.Credential) ([]byte, error) {
	entry := cachedCredential{Credential: *cred}
	entry.Credential.ClientSecret = ""
	entry.Credential.AccessToken = ""
	entry.Credential.RefreshToken = ""

	var err error
	if entry.ClientSecret, err = s.box.Seal(cred.ClientSecret); err != nil {
		return nil, err
	}
	if entry.AccessToken, err = s.box.Seal(cred.AccessToken); err != nil {
		return nil, err
	}
	if entry.RefreshToken, err = s.box.Seal(cred.RefreshToken); err != nil {
		return nil, err
	}
	return json.Marshal(entry)
}

func (s *CachedCredentialStore) decode(data []byte) (*integration.Credential, error) {
	var entry cachedCredential
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	cred := entry.Credential

	var err error
	if cred.ClientSecret, err = s.box.Open(entry.ClientSecret); err != nil {
		return nil, err
	}
	if cred.AccessToken, err = s.box.Open(entry.AccessToken); err != nil {
		return nil, err
	}
	if cred.RefreshToken, err = s.box.Open(entry.RefreshToken); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Ensure CachedCredentialStore implements CredentialStore
var _ integration.CredentialStore = (*CachedCredentialStore)(nil)
