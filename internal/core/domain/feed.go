package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid feed cursor")

// FeedCursor marks the position of the last delivered post. Ordering is
// (CreatedAt DESC, PostID DESC), so the pair is unique even when timestamps collide.
type FeedCursor struct {
	CreatedAt time.Time
	PostID    string
}

// Encode renders the cursor as an opaque page token.
func (c *FeedCursor) Encode() string {
	if c == nil {
		return ""
	}
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.PostID
}

// DecodeCursor parses a token produced by Encode. An empty token is a nil cursor.
func DecodeCursor(token string) (*FeedCursor, error) {
	if token == "" {
		return nil, nil
	}
	ts, id, ok := strings.Cut(token, "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &FeedCursor{CreatedAt: t, PostID: id}, nil
}

// After reports whether p sorts strictly after the cursor in feed order.
func (c *FeedCursor) After(p *Post) bool {
	if p.CreatedAt.Equal(c.CreatedAt) {
		return p.ID < c.PostID
	}
	return p.CreatedAt.Before(c.CreatedAt)
}

// Snapshot is one delivery of the live recent-posts subscription.
type Snapshot struct {
	Posts  []*Post
	Cursor *FeedCursor
}

// Page is the result of a one-shot page fetch. Next is nil once the source is exhausted.
type Page struct {
	Posts []*Post
	Next  *FeedCursor
}

// Viewer is the signed-in user, as handed over by the identity boundary.
type Viewer struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

func (v Viewer) Anonymous() bool {
	return v.ID == ""
}

// TransientState is the UI-only state of a post. It never reaches the backing store.
type TransientState struct {
	CommentsOpen bool
	CommentDraft string
	Editing      bool
	EditDraft    string
}

// PostView is a post merged with everything the UI needs to render it.
type PostView struct {
	Post      *Post
	Author    *UserProfile
	Following bool
	LikedByMe bool
	Transient TransientState
}

// FeedView is the render-ready state of the feed.
type FeedView struct {
	Viewer  Viewer
	Posts   []PostView
	HasMore bool
	Empty   bool
}
