package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrForbidden       = errors.New("only the author can change this post")
)

type Comment struct {
	PostID    string
	UserID    string
	Text      string
	CreatedAt time.Time
}

type Report struct {
	PostID    string
	UserID    string
	Reason    string
	CreatedAt time.Time
}

type postWatcher struct {
	limit int
	ch    chan domain.Snapshot
}

type profileWatcher struct {
	userID string
	ch     chan domain.UserProfile
}

// Store is an in-process backend implementing every driven port of the engine. Watchers
// always receive the latest state: a pending delivery is replaced, never queued.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]*domain.Post
	comments map[string][]Comment
	reports  []Report
	profiles map[string]*domain.UserProfile
	follows  map[string]map[string]struct{} // follower -> followees

	nextWatcher     int
	postWatchers    map[int]*postWatcher
	profileWatchers map[int]*profileWatcher

	now func() time.Time
}

var (
	_ ports.PostStore    = (*Store)(nil)
	_ ports.PostScanner  = (*Store)(nil)
	_ ports.ProfileStore = (*Store)(nil)
	_ ports.FollowGraph  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		posts:           make(map[string]*domain.Post),
		comments:        make(map[string][]Comment),
		profiles:        make(map[string]*domain.UserProfile),
		follows:         make(map[string]map[string]struct{}),
		postWatchers:    make(map[int]*postWatcher),
		profileWatchers: make(map[int]*profileWatcher),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// --- SEEDING ---

// PutPost inserts or replaces a post as is, bypassing validation.
func (s *Store) PutPost(p *domain.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p.Clone()
	s.broadcastPostsLocked()
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(p *domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
	s.broadcastProfileLocked(p.ID)
}

// SetFollowing records a follow relation without touching the counters.
func (s *Store) SetFollowing(followerID, followeeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.follows[followerID] == nil {
		s.follows[followerID] = make(map[string]struct{})
	}
	s.follows[followerID][followeeID] = struct{}{}
}

// Post returns a copy of a stored post.
func (s *Store) Post(id string) (*domain.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	return p.Clone(), ok
}

func (s *Store) Comments(postID string) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.comments[postID])
}

func (s *Store) Reports() []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.reports)
}

// WatcherCount returns the number of open post and profile subscriptions.
func (s *Store) WatcherCount() (posts, profiles int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.postWatchers), len(s.profileWatchers)
}

// --- POSTS ---

func (s *Store) SubscribeRecent(ctx context.Context, limit int) (<-chan domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	w := &postWatcher{limit: limit, ch: make(chan domain.Snapshot, 1)}
	s.postWatchers[id] = w
	offer(w.ch, s.snapshotLocked(limit))
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.postWatchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch, nil
}

func (s *Store) FetchPage(ctx context.Context, cursor domain.FeedCursor, limit int) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var after []*domain.Post
	for _, p := range s.sortedLocked() {
		if cursor.After(p) {
			after = append(after, p)
		}
	}
	page := domain.Page{Posts: after[:min(limit, len(after))]}
	if len(after) > limit && limit > 0 {
		page.Next = page.Posts[len(page.Posts)-1].Position()
	}
	return page, nil
}

func (s *Store) FetchOnce(ctx context.Context, limit int) ([]*domain.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentLocked(limit), nil
}

func (s *Store) CreatePost(ctx context.Context, draft domain.PostDraft) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := draft.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  draft.AuthorID,
		Content:   strings.TrimSpace(draft.Content),
		Media:     draft.Media,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.posts[p.ID] = p.Clone()
	s.broadcastPostsLocked()
	return p.ID, nil
}

func (s *Store) UpdatePost(ctx context.Context, postID, userID string, patch domain.PostPatch) error {
	return s.mutate(ctx, postID, func(p *domain.Post) error {
		if p.AuthorID != userID {
			return ErrForbidden
		}
		p.Apply(patch)
		return nil
	})
}

func (s *Store) DeletePost(ctx context.Context, postID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return ErrPostNotFound
	}
	if p.AuthorID != userID {
		return ErrForbidden
	}
	delete(s.posts, postID)
	delete(s.comments, postID)
	s.broadcastPostsLocked()
	return nil
}

func (s *Store) ToggleLike(ctx context.Context, postID, userID string) error {
	return s.mutate(ctx, postID, func(p *domain.Post) error {
		p.ToggleLike(userID)
		return nil
	})
}

func (s *Store) AddComment(ctx context.Context, postID, userID, text string) error {
	return s.mutate(ctx, postID, func(p *domain.Post) error {
		p.Comments++
		s.comments[postID] = append(s.comments[postID], Comment{PostID: postID, UserID: userID, Text: text, CreatedAt: s.now()})
		return nil
	})
}

func (s *Store) IncrementShares(ctx context.Context, postID string) error {
	return s.mutate(ctx, postID, func(p *domain.Post) error {
		p.Shares++
		return nil
	})
}

func (s *Store) Report(ctx context.Context, postID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return ErrPostNotFound
	}
	s.reports = append(s.reports, Report{PostID: postID, UserID: userID, Reason: reason, CreatedAt: s.now()})
	return nil
}

// --- MAINTENANCE ---

// ScanPosts hands over copies so yield may write back through SetLikes.
func (s *Store) ScanPosts(ctx context.Context, batchSize int, yield func([]*domain.Post) error) error {
	s.mu.RLock()
	all := s.sortedLocked()
	s.mu.RUnlock()

	for start := 0; start < len(all); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(all))
		if err := yield(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetLikes(ctx context.Context, postID string, likes int) error {
	return s.mutate(ctx, postID, func(p *domain.Post) error {
		p.Likes = likes
		return nil
	})
}

// --- PROFILES ---

func (s *Store) SubscribeProfile(ctx context.Context, userID string) (<-chan domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	w := &profileWatcher{userID: userID, ch: make(chan domain.UserProfile, 1)}
	s.profileWatchers[id] = w
	if p, ok := s.profiles[userID]; ok {
		offer(w.ch, *p)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.profileWatchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (s *Store) GetProfiles(ctx context.Context, userIDs []string) (map[string]*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[string]*domain.UserProfile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			found[id] = p.Clone()
		}
	}
	return found, nil
}

// --- FOLLOW GRAPH ---

func (s *Store) IsFollowing(ctx context.Context, viewerID, authorID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.follows[viewerID][authorID]
	return ok, nil
}

// ToggleFollow flips the relation and keeps both profile counters in step.
func (s *Store) ToggleFollow(ctx context.Context, viewerID, authorID string) (domain.FollowResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.FollowResult{}, err
	}
	if viewerID == authorID {
		return domain.FollowResult{}, domain.ErrSelfFollow
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[authorID]; !ok {
		return domain.FollowResult{}, ErrProfileNotFound
	}

	if s.follows[viewerID] == nil {
		s.follows[viewerID] = make(map[string]struct{})
	}
	_, following := s.follows[viewerID][authorID]
	delta := 1
	if following {
		delete(s.follows[viewerID], authorID)
		delta = -1
	} else {
		s.follows[viewerID][authorID] = struct{}{}
	}

	s.profiles[authorID].AdjustFollowers(delta)
	s.broadcastProfileLocked(authorID)
	if v, ok := s.profiles[viewerID]; ok {
		v.FollowingCount = max(v.FollowingCount+delta, 0)
		s.broadcastProfileLocked(viewerID)
	}
	return domain.FollowResult{IsFollowing: !following}, nil
}

// Recommendations ranks the accounts the viewer does not follow yet by the number of
// followees they share with the viewer, then by audience.
func (s *Store) Recommendations(ctx context.Context, viewerID string, limit int) ([]*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	followed := s.follows[viewerID]
	mutual := make(map[string]int)
	for followee := range followed {
		for candidate := range s.follows[followee] {
			mutual[candidate]++
		}
	}

	var out []*domain.UserProfile
	for id, p := range s.profiles {
		if id == viewerID {
			continue
		}
		if _, ok := followed[id]; ok {
			continue
		}
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b *domain.UserProfile) int {
		return cmp.Or(
			cmp.Compare(mutual[b.ID], mutual[a.ID]),
			cmp.Compare(b.FollowersCount, a.FollowersCount),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out[:min(limit, len(out))], nil
}

// --- HELPERS ---

func (s *Store) mutate(ctx context.Context, postID string, fn func(p *domain.Post) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return ErrPostNotFound
	}
	if err := fn(p); err != nil {
		return err
	}
	s.broadcastPostsLocked()
	return nil
}

// sortedLocked returns copies of every post in feed order.
func (s *Store) sortedLocked() []*domain.Post {
	all := make([]*domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		all = append(all, p.Clone())
	}
	slices.SortFunc(all, func(a, b *domain.Post) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return all
}

func (s *Store) recentLocked(limit int) []*domain.Post {
	all := s.sortedLocked()
	return all[:min(limit, len(all))]
}

func (s *Store) snapshotLocked(limit int) domain.Snapshot {
	posts := s.recentLocked(limit)
	snap := domain.Snapshot{Posts: posts}
	if len(posts) > 0 {
		snap.Cursor = posts[len(posts)-1].Position()
	}
	return snap
}

func (s *Store) broadcastPostsLocked() {
	for _, w := range s.postWatchers {
		offer(w.ch, s.snapshotLocked(w.limit))
	}
}

func (s *Store) broadcastProfileLocked(userID string) {
	p, ok := s.profiles[userID]
	if !ok {
		return
	}
	for _, w := range s.profileWatchers {
		if w.userID == userID {
			offer(w.ch, *p.Clone())
		}
	}
}

// offer delivers v on a 1-buffered channel, replacing any undelivered value.
// Callers hold the store lock, so they are the only sender.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
