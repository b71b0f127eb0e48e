package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container test skipped in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisProfileRepo(t *testing.T) {
	repo := NewRedisProfileRepo(startRedis(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.UserProfile{ID: "alice", DisplayName: "Alice", FollowersCount: 1}))
	require.NoError(t, repo.Upsert(ctx, &domain.UserProfile{ID: "bob", DisplayName: "Bob"}))

	t.Run("batch read skips unknown ids", func(t *testing.T) {
		found, err := repo.GetProfiles(ctx, []string{"alice", "ghost", "bob"})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Equal(t, "Alice", found["alice"].DisplayName)

		_, err = repo.GetProfile(ctx, "ghost")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("counters are floored at zero", func(t *testing.T) {
		require.NoError(t, repo.AdjustFollowCounts(ctx, "bob", "alice", -1))
		require.NoError(t, repo.AdjustFollowCounts(ctx, "bob", "alice", -1))

		alice, err := repo.GetProfile(ctx, "alice")
		require.NoError(t, err)
		assert.Zero(t, alice.FollowersCount)
		bob, err := repo.GetProfile(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, bob.FollowingCount)
	})

	t.Run("subscription sees the current profile then every change", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		ch, err := repo.SubscribeProfile(subCtx, "alice")
		require.NoError(t, err)

		first := <-ch
		assert.Equal(t, "Alice", first.DisplayName)

		require.NoError(t, repo.AdjustFollowCounts(ctx, "bob", "alice", 1))
		select {
		case p := <-ch:
			assert.Equal(t, 1, p.FollowersCount)
		case <-time.After(5 * time.Second):
			t.Fatal("no profile update received")
		}

		cancel()
		assert.Eventually(t, func() bool {
			select {
			case _, open := <-ch:
				return !open
			default:
				return false
			}
		}, 5*time.Second, 10*time.Millisecond)
	})
}
