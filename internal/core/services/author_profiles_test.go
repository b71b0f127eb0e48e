package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

func TestReconcileMatchesRequiredSet(t *testing.T) {
	store := newFlakyStore()
	seedProfiles(store, "a", "b", "c")
	cache := NewAuthorProfileCache(store, nil)
	t.Cleanup(cache.Close)
	ctx := context.Background()

	steps := [][]string{
		{"a", "b"},
		{"b", "c", "c"},
		{"a", "b", "c"},
		{},
		{"c"},
	}
	for _, required := range steps {
		require.NoError(t, cache.Reconcile(ctx, required))

		want := map[string]struct{}{}
		for _, id := range required {
			want[id] = struct{}{}
		}
		got := cache.Subscribed()
		assert.Len(t, got, len(want), "required %v", required)
		for _, id := range got {
			assert.Contains(t, want, id)
		}
		assert.Eventually(t, func() bool {
			_, profiles := store.WatcherCount()
			return profiles == len(want)
		}, waitFor, tick, "no dangling store subscription for %v", required)
	}
}

func TestReconcileRetriesFailedOpens(t *testing.T) {
	store := newFlakyStore()
	seedProfiles(store, "a", "b")
	store.set(func(s *flakyStore) { s.profileSubErr["b"] = errBackend })
	cache := NewAuthorProfileCache(store, nil)
	t.Cleanup(cache.Close)
	ctx := context.Background()

	err := cache.Reconcile(ctx, []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, []string{"a"}, cache.Subscribed())

	store.set(func(s *flakyStore) { delete(s.profileSubErr, "b") })
	require.NoError(t, cache.Reconcile(ctx, []string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, cache.Subscribed())
}

func TestReconcileConcurrentCallsNeverDuplicate(t *testing.T) {
	store := newFlakyStore()
	seedProfiles(store, "a", "b", "c")
	cache := NewAuthorProfileCache(store, nil)
	t.Cleanup(cache.Close)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cache.Reconcile(context.Background(), []string{"a", "b", "c"})
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, cache.Subscribed())
	_, profiles := store.WatcherCount()
	assert.Equal(t, 3, profiles)
}

func TestProfilePushesReachTheCache(t *testing.T) {
	store := newFlakyStore()
	seedProfiles(store, "a")

	pushed := make(chan string, 8)
	cache := NewAuthorProfileCache(store, func(_ context.Context, id string) { pushed <- id })
	t.Cleanup(cache.Close)

	require.NoError(t, cache.Reconcile(context.Background(), []string{"a"}))
	assert.Equal(t, "a", <-pushed)

	store.PutProfile(&domain.UserProfile{ID: "a", DisplayName: "renamed"})
	assert.Eventually(t, func() bool {
		p := cache.Profile("a")
		return p != nil && p.DisplayName == "renamed"
	}, waitFor, tick)

	// Closing keeps the last known value for rendering.
	require.NoError(t, cache.Reconcile(context.Background(), nil))
	require.NotNil(t, cache.Profile("a"))
	assert.False(t, cache.IsLive("a"))
}

func TestFetchBatchesOnDemandReads(t *testing.T) {
	store := newFlakyStore()
	seedProfiles(store, "a", "b")
	cache := NewAuthorProfileCache(store, nil)
	t.Cleanup(cache.Close)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*domain.UserProfile, 2)
	for i, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := cache.Fetch(ctx, id)
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)

	_, err := cache.Fetch(ctx, "missing")
	assert.True(t, domain.IsNotFound(err))
}
