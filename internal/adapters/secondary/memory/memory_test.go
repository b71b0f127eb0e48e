package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedPosts(s *Store, n int) []*domain.Post {
	posts := make([]*domain.Post, n)
	for i := range n {
		p := &domain.Post{
			ID:        string(rune('a' + i)),
			AuthorID:  "author",
			Content:   "post",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		s.PutPost(p)
		posts[i] = p
	}
	return posts
}

func TestStorePosts(t *testing.T) {
	t.Run("FetchOnce returns most recent first", func(t *testing.T) {
		s := New()
		seedPosts(s, 5)

		posts, err := s.FetchOnce(context.Background(), 3)
		require.NoError(t, err)
		require.Len(t, posts, 3)
		assert.Equal(t, []string{"e", "d", "c"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})
	})

	t.Run("FetchPage walks the keyset", func(t *testing.T) {
		s := New()
		posts := seedPosts(s, 5)
		ctx := context.Background()

		page, err := s.FetchPage(ctx, *posts[3].Position(), 2)
		require.NoError(t, err)
		require.Len(t, page.Posts, 2)
		assert.Equal(t, "c", page.Posts[0].ID)
		assert.Equal(t, "b", page.Posts[1].ID)
		require.NotNil(t, page.Next, "one post remains after b")

		page, err = s.FetchPage(ctx, *page.Next, 2)
		require.NoError(t, err)
		require.Len(t, page.Posts, 1)
		assert.Equal(t, "a", page.Posts[0].ID)
		assert.Nil(t, page.Next)
	})

	t.Run("timestamps collisions are ordered by id", func(t *testing.T) {
		s := New()
		s.PutPost(&domain.Post{ID: "x", CreatedAt: base})
		s.PutPost(&domain.Post{ID: "y", CreatedAt: base})

		page, err := s.FetchPage(context.Background(), domain.FeedCursor{CreatedAt: base, PostID: "y"}, 10)
		require.NoError(t, err)
		require.Len(t, page.Posts, 1)
		assert.Equal(t, "x", page.Posts[0].ID)
	})

	t.Run("only the author can edit or delete", func(t *testing.T) {
		s := New()
		seedPosts(s, 1)
		ctx := context.Background()

		assert.ErrorIs(t, s.UpdatePost(ctx, "a", "intruder", domain.PostPatch{Content: "x"}), ErrForbidden)
		assert.ErrorIs(t, s.DeletePost(ctx, "a", "intruder"), ErrForbidden)
		require.NoError(t, s.DeletePost(ctx, "a", "author"))
		assert.ErrorIs(t, s.DeletePost(ctx, "a", "author"), ErrPostNotFound)
	})

	t.Run("ToggleLike never drives likes below zero", func(t *testing.T) {
		s := New()
		s.PutPost(&domain.Post{ID: "p", Likes: 0, LikedBy: []string{"u"}, CreatedAt: base})

		require.NoError(t, s.ToggleLike(context.Background(), "p", "u"))
		p, _ := s.Post("p")
		assert.Equal(t, 0, p.Likes)
		assert.Empty(t, p.LikedBy)
	})

	t.Run("comments and reports are recorded", func(t *testing.T) {
		s := New()
		seedPosts(s, 1)
		ctx := context.Background()

		require.NoError(t, s.AddComment(ctx, "a", "u", "nice"))
		require.NoError(t, s.Report(ctx, "a", "u", "spam"))
		assert.ErrorIs(t, s.Report(ctx, "missing", "u", "spam"), ErrPostNotFound)

		p, _ := s.Post("a")
		assert.Equal(t, 1, p.Comments)
		assert.Len(t, s.Comments("a"), 1)
		assert.Len(t, s.Reports(), 1)
	})
}

func TestStoreSubscribeRecent(t *testing.T) {
	s := New()
	seedPosts(s, 2)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.SubscribeRecent(ctx, 10)
	require.NoError(t, err)

	first := <-ch
	require.Len(t, first.Posts, 2)
	require.NotNil(t, first.Cursor)
	assert.Equal(t, "a", first.Cursor.PostID)

	// Two writes before the reader catches up: only the latest state is delivered.
	require.NoError(t, s.IncrementShares(ctx, "a"))
	require.NoError(t, s.IncrementShares(ctx, "a"))
	latest := <-ch
	assert.Equal(t, 2, latest.Posts[1].Shares)

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
	postsWatchers, _ := s.WatcherCount()
	assert.Zero(t, postsWatchers)
}

func TestStoreFollowGraph(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutProfile(&domain.UserProfile{ID: "me"})
	s.PutProfile(&domain.UserProfile{ID: "bob", FollowersCount: 3})
	s.PutProfile(&domain.UserProfile{ID: "carol"})
	s.PutProfile(&domain.UserProfile{ID: "dave", FollowersCount: 10})

	ch, err := s.SubscribeProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, (<-ch).FollowersCount)

	res, err := s.ToggleFollow(ctx, "me", "bob")
	require.NoError(t, err)
	assert.True(t, res.IsFollowing)
	assert.Equal(t, 4, (<-ch).FollowersCount)

	following, err := s.IsFollowing(ctx, "me", "bob")
	require.NoError(t, err)
	assert.True(t, following)

	_, err = s.ToggleFollow(ctx, "me", "me")
	assert.ErrorIs(t, err, domain.ErrSelfFollow)

	s.SetFollowing("bob", "carol")
	recs, err := s.Recommendations(ctx, "me", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "carol", recs[0].ID, "followed by someone the viewer follows")
	assert.Equal(t, "dave", recs[1].ID)
}

func TestStoreScanPosts(t *testing.T) {
	s := New()
	seedPosts(s, 5)

	var batches []int
	err := s.ScanPosts(context.Background(), 2, func(batch []*domain.Post) error {
		batches = append(batches, len(batch))
		for _, p := range batch {
			require.NoError(t, s.SetLikes(context.Background(), p.ID, 7))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, batches)

	p, _ := s.Post("c")
	assert.Equal(t, 7, p.Likes)
}
