//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	rdb := NewClient(ClientOptions{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRepository_Redis(t *testing.T) {
	ctx := context.Background()
	rdb := startRedis(t)
	base := &mockRepo{active: catalog()}
	repo := New(base, rdb, time.Minute)

	_, err := repo.ListActive(ctx)
	require.NoError(t, err)

	ttl, err := rdb.TTL(ctx, DefaultKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	ps, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, ps, 2)
	assert.Equal(t, 1, base.listCalls)

	require.NoError(t, repo.Invalidate(ctx))
	n, err := rdb.Exists(ctx, DefaultKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
