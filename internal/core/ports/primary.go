package ports

import (
	"context"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

// --- DRIVING (what the engine exposes) ---

// EditInput carries an edit gesture. Image replaces the attachment; ClearImage drops it
// when no replacement is given.
type EditInput struct {
	Text       string
	Image      *domain.Media
	ClearImage bool
}

// FeedSession is the live feed of one viewer, as bound by a UI.
type FeedSession interface {
	Initialize(ctx context.Context) error
	Teardown()
	View() domain.FeedView
	OnChange(fn func(domain.FeedView))

	// Pagination
	LoadMore(ctx context.Context) error

	// Optimistic mutations
	Like(ctx context.Context, postID string) error
	Comment(ctx context.Context, postID, text string) error
	Edit(ctx context.Context, postID string, in EditInput) error
	Delete(ctx context.Context, postID string) error
	Share(ctx context.Context, postID string) error
	Follow(ctx context.Context, authorID string) error
	CreatePost(ctx context.Context, content string, media *domain.Media) (string, error)
	Report(ctx context.Context, postID, reason string) error
	Suggestions(ctx context.Context, limit int) ([]*domain.UserProfile, error)

	// UI-transient state
	ToggleComments(postID string) error
	SetCommentDraft(postID, text string) error
	BeginEdit(postID string) error
	SetEditDraft(postID, text string) error
	CancelEdit(postID string) error
}

// Maintenance groups the operator-triggered operations.
type Maintenance interface {
	// ScanAndRepair fixes negative like counters and returns how many posts were repaired.
	ScanAndRepair(ctx context.Context) (int, error)
}
