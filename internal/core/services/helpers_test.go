package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ggg436/greenloops/feed-sync/internal/adapters/secondary/memory"
	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// flakyStore wraps the memory store with switchable failures.
type flakyStore struct {
	*memory.Store

	mu               sync.Mutex
	likeErr          error
	commentErr       error
	editErr          error
	followErr        error
	followOverride   *domain.FollowResult
	profileSubErr    map[string]error
	emptySnapshots   bool
	silentSnapshots  bool
	recentSubs       int
	fetchOnceCalls   int
	fetchPageCalls   int
	fetchPageGate    chan struct{}
	fetchPageEntered chan struct{}
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New(), profileSubErr: make(map[string]error)}
}

func (s *flakyStore) set(fn func(s *flakyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *flakyStore) ToggleLike(ctx context.Context, postID, userID string) error {
	s.mu.Lock()
	err := s.likeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.ToggleLike(ctx, postID, userID)
}

func (s *flakyStore) AddComment(ctx context.Context, postID, userID, text string) error {
	s.mu.Lock()
	err := s.commentErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.AddComment(ctx, postID, userID, text)
}

func (s *flakyStore) UpdatePost(ctx context.Context, postID, userID string, patch domain.PostPatch) error {
	s.mu.Lock()
	err := s.editErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.UpdatePost(ctx, postID, userID, patch)
}

func (s *flakyStore) ToggleFollow(ctx context.Context, viewerID, authorID string) (domain.FollowResult, error) {
	s.mu.Lock()
	err, override := s.followErr, s.followOverride
	s.mu.Unlock()
	if err != nil {
		return domain.FollowResult{}, err
	}
	if override != nil {
		return *override, nil
	}
	return s.Store.ToggleFollow(ctx, viewerID, authorID)
}

func (s *flakyStore) SubscribeProfile(ctx context.Context, userID string) (<-chan domain.UserProfile, error) {
	s.mu.Lock()
	err := s.profileSubErr[userID]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.SubscribeProfile(ctx, userID)
}

// SubscribeRecent delivers a single empty snapshot when emptySnapshots is set, as a
// stalled remote would, and nothing at all when silentSnapshots is set.
func (s *flakyStore) SubscribeRecent(ctx context.Context, limit int) (<-chan domain.Snapshot, error) {
	s.mu.Lock()
	s.recentSubs++
	empty, silent := s.emptySnapshots, s.silentSnapshots
	s.mu.Unlock()
	if !empty && !silent {
		return s.Store.SubscribeRecent(ctx, limit)
	}

	ch := make(chan domain.Snapshot, 1)
	if empty {
		ch <- domain.Snapshot{}
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *flakyStore) FetchOnce(ctx context.Context, limit int) ([]*domain.Post, error) {
	s.mu.Lock()
	s.fetchOnceCalls++
	s.mu.Unlock()
	return s.Store.FetchOnce(ctx, limit)
}

func (s *flakyStore) FetchPage(ctx context.Context, cursor domain.FeedCursor, limit int) (domain.Page, error) {
	s.mu.Lock()
	s.fetchPageCalls++
	gate, entered := s.fetchPageGate, s.fetchPageEntered
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return s.Store.FetchPage(ctx, cursor, limit)
}

func (s *flakyStore) calls() (fetchOnce, fetchPage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchOnceCalls, s.fetchPageCalls
}

// seed stores n posts of author, the newest being the last one.
func seed(s *flakyStore, author string, from, n int) []*domain.Post {
	posts := make([]*domain.Post, n)
	for i := range n {
		p := &domain.Post{
			ID:        fmt.Sprintf("%s-%02d", author, from+i),
			AuthorID:  author,
			Content:   "hello",
			CreatedAt: t0.Add(time.Duration(from+i) * time.Minute),
		}
		s.PutPost(p)
		posts[i] = p
	}
	return posts
}

func seedProfiles(s *flakyStore, ids ...string) {
	for _, id := range ids {
		s.PutProfile(&domain.UserProfile{ID: id, DisplayName: "user " + id})
	}
}

func newTestFeed(t *testing.T, store *flakyStore, viewerID string, opts Options) *Feed {
	t.Helper()
	f := NewFeed(store, store, store, ports.StaticViewer{ID: viewerID}, opts)
	t.Cleanup(f.Teardown)
	return f
}

func startFeed(t *testing.T, store *flakyStore, viewerID string, opts Options) *Feed {
	t.Helper()
	f := newTestFeed(t, store, viewerID, opts)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.Initialize(ctx))
	return f
}

func postIDs(f *Feed) []string {
	view := f.View()
	ids := make([]string, len(view.Posts))
	for i, pv := range view.Posts {
		ids[i] = pv.Post.ID
	}
	return ids
}
