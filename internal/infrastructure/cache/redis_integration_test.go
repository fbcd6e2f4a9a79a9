//go:build integration

package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/erp/nfse-bridge/internal/domain/integration"
	"github.com/erp/nfse-bridge/internal/infrastructure/auth"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisNonceStore(t *testing.T) {
	client := newRedisClient(t)
	store := NewRedisNonceStore(client, "")
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "n1", time.Minute))
	assert.Error(t, store.Add(ctx, "n1", time.Minute), "colliding nonce is rejected")

	ok, err := store.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, defaultNoncePrefix+"n1").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl, "key is gone after consumption")
}

type mockCredentialStore struct {
	mock.Mock
}

func (m *mockCredentialStore) Get(ctx context.Context, userKey string) (*integration.Credential, error) {
	args := m.Called(ctx, userKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Credential), args.Error(1)
}

func (m *mockCredentialStore) Put(ctx context.Context, credential *integration.Credential) error {
	return m.Called(ctx, credential).Error(0)
}

func (m *mockCredentialStore) Delete(ctx context.Context, userKey string) error {
	return m.Called(ctx, userKey).Error(0)
}

func TestCachedCredentialStore(t *testing.T) {
	client := newRedisClient(t)
	box, err := auth.NewSecretBox(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	primary := new(mockCredentialStore)
	store := NewCachedCredentialStore(primary, client, box, time.Minute, zap.NewNop())
	ctx := context.Background()

	cred := &integration.Credential{ClientID: "cid", ClientSecret: "sec", AccessToken: "at", RefreshToken: "rt", Active: true}
	primary.On("Get", mock.Anything, "").Return(cred, nil).Once()

	first, err := store.Get(ctx, "")
	require.NoError(t, err)
	second, err := store.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "at", second.AccessToken)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)

	raw, err := client.Get(ctx, defaultCredentialPrefix+"default").Result()
	require.NoError(t, err)
	assert.NotContains(t, raw, `"sec"`)

	primary.On("Put", mock.Anything, cred).Return(nil).Once()
	require.NoError(t, store.Put(ctx, cred))
	exists, err := client.Exists(ctx, defaultCredentialPrefix+"default").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "write invalidates the cache")

	primary.AssertExpectations(t)
}
