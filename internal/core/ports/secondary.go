package ports

import (
	"context"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

// --- DRIVEN (what the engine needs) ---

// PostStore is the remote post channel: a live subscription over the most recent posts
// plus one-shot reads and writes.
type PostStore interface {
	// SubscribeRecent pushes the current `limit` most recent posts, then a fresh snapshot
	// every time they change. The channel is closed once ctx is done.
	SubscribeRecent(ctx context.Context, limit int) (<-chan domain.Snapshot, error)

	// FetchPage returns up to `limit` posts strictly after cursor.
	FetchPage(ctx context.Context, cursor domain.FeedCursor, limit int) (domain.Page, error)

	// FetchOnce reads the `limit` most recent posts without subscribing.
	FetchOnce(ctx context.Context, limit int) ([]*domain.Post, error)

	CreatePost(ctx context.Context, draft domain.PostDraft) (string, error)
	UpdatePost(ctx context.Context, postID, userID string, patch domain.PostPatch) error
	DeletePost(ctx context.Context, postID, userID string) error

	// ToggleLike flips the like of userID on the server side.
	ToggleLike(ctx context.Context, postID, userID string) error
	AddComment(ctx context.Context, postID, userID, text string) error
	IncrementShares(ctx context.Context, postID string) error
	Report(ctx context.Context, postID, userID, reason string) error
}

// PostScanner is the maintenance view of the post storage, used by the counter reconciler.
type PostScanner interface {
	// ScanPosts walks every stored post, handing them over in batches of at most batchSize.
	ScanPosts(ctx context.Context, batchSize int, yield func([]*domain.Post) error) error

	// SetLikes overwrites the like counter of a post.
	SetLikes(ctx context.Context, postID string, likes int) error
}

type ProfileStore interface {
	// SubscribeProfile pushes the current profile, then every update. Closed once ctx is done.
	SubscribeProfile(ctx context.Context, userID string) (<-chan domain.UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)

	// GetProfiles is the batch read; missing ids are absent from the result map.
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*domain.UserProfile, error)
}

type FollowGraph interface {
	IsFollowing(ctx context.Context, viewerID, authorID string) (bool, error)
	ToggleFollow(ctx context.Context, viewerID, authorID string) (domain.FollowResult, error)
	Recommendations(ctx context.Context, viewerID string, limit int) ([]*domain.UserProfile, error)
}

// ViewerSource is the read-only window on the authentication boundary.
type ViewerSource interface {
	CurrentViewer() domain.Viewer
}

// StaticViewer is a ViewerSource for a session whose identity never changes.
type StaticViewer domain.Viewer

func (v StaticViewer) CurrentViewer() domain.Viewer {
	return domain.Viewer(v)
}
