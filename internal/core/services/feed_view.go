package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

const (
	DefaultRecentLimit = 10
	DefaultPageSize    = 10
)

type Options struct {
	// RecentLimit bounds the live subscription to the N most recent posts.
	RecentLimit int
	// PageSize is the number of posts fetched by LoadMore.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.RecentLimit <= 0 {
		o.RecentLimit = DefaultRecentLimit
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

type liveSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Feed is the view model of one viewer's feed: the post list, the per-post transient
// state and the author/follow caches merged for rendering. It also carries the
// optimistic mutations and the pagination cursor.
type Feed struct {
	posts    ports.PostStore
	graph    ports.FollowGraph
	viewer   ports.ViewerSource
	profiles *AuthorProfileCache
	follows  *FollowMirror
	opts     Options

	mu           sync.Mutex
	list         []*domain.Post
	cursor       *domain.FeedCursor
	transient    map[string]*domain.TransientState
	generation   uint64 // bumped every time the list is replaced wholesale
	empty        bool
	fallbackUsed bool
	loading      bool
	live         *liveSubscription
	listeners    []func(domain.FeedView)

	// reconcileMu serializes author reconciliation so the last reconcile always sees the
	// latest list, and so teardown cannot race a reconcile.
	reconcileMu sync.Mutex
}

var _ ports.FeedSession = (*Feed)(nil)

func NewFeed(posts ports.PostStore, profiles ports.ProfileStore, graph ports.FollowGraph, viewer ports.ViewerSource, opts Options) *Feed {
	f := &Feed{
		posts:     posts,
		graph:     graph,
		viewer:    viewer,
		follows:   NewFollowMirror(graph, viewer),
		opts:      opts.withDefaults(),
		transient: make(map[string]*domain.TransientState),
	}
	f.profiles = NewAuthorProfileCache(profiles, f.onProfilePush)
	return f
}

// Profiles exposes the author cache (read-only use).
func (f *Feed) Profiles() *AuthorProfileCache { return f.profiles }

// Follows exposes the follow mirror (read-only use).
func (f *Feed) Follows() *FollowMirror { return f.follows }

// --- LIFECYCLE ---

// Initialize opens the live subscription on the most recent posts and waits for the
// first snapshot to be applied. Calling it on an active feed is a no-op.
func (f *Feed) Initialize(ctx context.Context) error {
	f.mu.Lock()
	if f.live != nil {
		f.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	live := &liveSubscription{cancel: cancel, done: make(chan struct{})}
	f.live = live
	f.fallbackUsed = false
	f.mu.Unlock()

	ch, err := f.posts.SubscribeRecent(subCtx, f.opts.RecentLimit)
	if err != nil {
		cancel()
		close(live.done)
		f.mu.Lock()
		if f.live == live {
			f.live = nil
		}
		f.mu.Unlock()
		return fmt.Errorf("subscribe recent posts: %w", err)
	}

	first := make(chan struct{})
	go f.pumpPosts(subCtx, live, ch, first)

	slog.Debug("live feed subscription opened", "limit", f.opts.RecentLimit)
	select {
	case <-first:
		return nil
	case <-ctx.Done():
		f.closeLive(live)
		return fmt.Errorf("wait for first snapshot: %w", ctx.Err())
	}
}

// closeLive drops a subscription that never delivered, leaving the feed ready for another
// Initialize.
func (f *Feed) closeLive(live *liveSubscription) {
	f.mu.Lock()
	if f.live == live {
		f.live = nil
	}
	f.mu.Unlock()

	live.cancel()
	<-live.done

	f.reconcileMu.Lock()
	f.profiles.Close()
	f.reconcileMu.Unlock()
}

func (f *Feed) pumpPosts(ctx context.Context, live *liveSubscription, ch <-chan domain.Snapshot, first chan struct{}) {
	defer close(live.done)
	var once sync.Once
	signal := func() { once.Do(func() { close(first) }) }
	defer signal()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				slog.Warn("live feed subscription ended by the store")
				return
			}
			f.applySnapshot(ctx, snap)
			signal()
		}
	}
}

// Teardown closes the live subscription and every author subscription. Safe to call
// any number of times.
func (f *Feed) Teardown() {
	f.mu.Lock()
	live := f.live
	f.live = nil
	f.mu.Unlock()

	if live != nil {
		live.cancel()
		<-live.done
	}

	f.reconcileMu.Lock()
	f.profiles.Close()
	f.reconcileMu.Unlock()

	if live != nil {
		slog.Debug("live feed subscription closed")
	}
}

// OnChange registers fn to be called with the fresh view after every state change.
func (f *Feed) OnChange(fn func(domain.FeedView)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// --- PUSH HANDLING ---

func (f *Feed) applySnapshot(ctx context.Context, snap domain.Snapshot) {
	posts, cursor := snap.Posts, snap.Cursor

	if len(posts) == 0 {
		f.mu.Lock()
		tryFallback := !f.fallbackUsed
		f.fallbackUsed = true
		f.mu.Unlock()

		if tryFallback {
			fetched, err := f.posts.FetchOnce(ctx, f.opts.RecentLimit)
			switch {
			case err != nil:
				slog.Warn("fallback fetch failed", "error", err)
			case len(fetched) > 0:
				slog.Info("live subscription delivered no posts, using fallback fetch", "count", len(fetched))
				posts, cursor = fetched, tailCursor(fetched)
			}
		}
	}

	f.replaceList(ctx, posts, cursor)
}

// replaceList installs a new list wholesale. Unconfirmed optimistic changes are lost:
// server state wins.
func (f *Feed) replaceList(ctx context.Context, posts []*domain.Post, cursor *domain.FeedCursor) {
	f.mu.Lock()
	f.list = make([]*domain.Post, 0, len(posts))
	present := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		f.list = append(f.list, p.Clone())
		present[p.ID] = struct{}{}
	}
	for id := range f.transient {
		if _, ok := present[id]; !ok {
			delete(f.transient, id)
		}
	}
	f.cursor = cursor
	f.generation++
	f.empty = len(f.list) == 0
	f.mu.Unlock()

	f.syncAuthors(ctx)
	f.notify()
}

// syncAuthors reconciles the author subscriptions against the authors of the current list.
func (f *Feed) syncAuthors(ctx context.Context) {
	f.reconcileMu.Lock()
	defer f.reconcileMu.Unlock()

	f.mu.Lock()
	active := f.live != nil
	authors := domain.AuthorIDs(f.list)
	f.mu.Unlock()
	if !active {
		return
	}

	if err := f.profiles.Reconcile(ctx, authors); err != nil {
		slog.Warn("author reconciliation incomplete", "error", err)
	}
}

func (f *Feed) onProfilePush(ctx context.Context, authorID string) {
	// Follow counts and follow state are coupled: refresh the status with every profile push.
	_, _ = f.follows.Refresh(ctx, authorID)
	f.notify()
}

func (f *Feed) notify() {
	f.mu.Lock()
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	view := f.View()
	for _, fn := range listeners {
		fn(view)
	}
}

// --- READ SIDE ---

// View assembles the render-ready state.
func (f *Feed) View() domain.FeedView {
	viewer := f.viewer.CurrentViewer()

	f.mu.Lock()
	posts := make([]*domain.Post, len(f.list))
	states := make([]domain.TransientState, len(f.list))
	for i, p := range f.list {
		posts[i] = p.Clone()
		if st := f.transient[p.ID]; st != nil {
			states[i] = *st
		}
	}
	view := domain.FeedView{
		Viewer:  viewer,
		HasMore: f.cursor != nil,
		Empty:   f.empty,
	}
	f.mu.Unlock()

	view.Posts = make([]domain.PostView, len(posts))
	for i, p := range posts {
		following, _ := f.follows.Get(p.AuthorID)
		view.Posts[i] = domain.PostView{
			Post:      p,
			Author:    f.profiles.Profile(p.AuthorID),
			Following: following,
			LikedByMe: !viewer.Anonymous() && p.IsLikedBy(viewer.ID),
			Transient: states[i],
		}
	}
	return view
}

// Post returns a copy of a post of the current list.
func (f *Feed) Post(postID string) (*domain.Post, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexOf(postID); i >= 0 {
		return f.list[i].Clone(), true
	}
	return nil, false
}

// Len returns the number of posts in the current list.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.list)
}

// indexOf must be called with f.mu held.
func (f *Feed) indexOf(postID string) int {
	for i, p := range f.list {
		if p.ID == postID {
			return i
		}
	}
	return -1
}

// --- TRANSIENT STATE ---

func (f *Feed) updateTransient(op, postID string, fn func(p *domain.Post, st *domain.TransientState)) error {
	f.mu.Lock()
	i := f.indexOf(postID)
	if i < 0 {
		f.mu.Unlock()
		return domain.NewNotFoundError(op, postID)
	}
	st := f.transient[postID]
	if st == nil {
		st = &domain.TransientState{}
		f.transient[postID] = st
	}
	fn(f.list[i], st)
	f.mu.Unlock()

	f.notify()
	return nil
}

func (f *Feed) ToggleComments(postID string) error {
	return f.updateTransient("toggle_comments", postID, func(_ *domain.Post, st *domain.TransientState) {
		st.CommentsOpen = !st.CommentsOpen
	})
}

func (f *Feed) SetCommentDraft(postID, text string) error {
	return f.updateTransient("comment_draft", postID, func(_ *domain.Post, st *domain.TransientState) {
		st.CommentDraft = text
	})
}

// BeginEdit opens the editor pre-filled with the current content.
func (f *Feed) BeginEdit(postID string) error {
	return f.updateTransient("begin_edit", postID, func(p *domain.Post, st *domain.TransientState) {
		st.Editing = true
		st.EditDraft = p.Content
	})
}

func (f *Feed) SetEditDraft(postID, text string) error {
	return f.updateTransient("edit_draft", postID, func(_ *domain.Post, st *domain.TransientState) {
		st.EditDraft = text
	})
}

func (f *Feed) CancelEdit(postID string) error {
	return f.updateTransient("cancel_edit", postID, func(_ *domain.Post, st *domain.TransientState) {
		st.Editing = false
		st.EditDraft = ""
	})
}

func tailCursor(posts []*domain.Post) *domain.FeedCursor {
	if len(posts) == 0 {
		return nil
	}
	return posts[len(posts)-1].Position()
}
