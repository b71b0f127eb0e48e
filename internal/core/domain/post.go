package domain

import (
	"slices"
	"strings"
	"time"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
)

// Media is the attachment of a post. The Kind decides which fields are meaningful;
// a post without attachment carries a nil *Media.
type Media struct {
	Kind MediaKind
	URL  string
}

func NewImage(url string) *Media {
	return &Media{Kind: MediaKindImage, URL: strings.TrimSpace(url)}
}

type Post struct {
	ID        string
	AuthorID  string
	Content   string
	Media     *Media
	Likes     int
	LikedBy   []string
	Comments  int
	Shares    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostDraft is the input of a post creation.
type PostDraft struct {
	AuthorID string
	Content  string
	Media    *Media
}

// Validate checks that the draft carries text or an attachment.
func (d PostDraft) Validate() error {
	if strings.TrimSpace(d.Content) == "" && (d.Media == nil || d.Media.URL == "") {
		return NewEmptyInputError("create", "", "content")
	}
	if d.AuthorID == "" {
		return NewNotAuthenticatedError("create")
	}
	return nil
}

// PostPatch describes an edit. Content is always applied; Media replaces the attachment
// when set, ClearMedia removes it when no replacement is given.
type PostPatch struct {
	Content    string
	Media      *Media
	ClearMedia bool
}

// --- BEHAVIOURS ---

// Clone returns a deep copy so views never share slices with the live list.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.Media != nil {
		m := *p.Media
		c.Media = &m
	}
	c.LikedBy = slices.Clone(p.LikedBy)
	return &c
}

// IsLikedBy reports whether userID is in LikedBy.
func (p *Post) IsLikedBy(userID string) bool {
	return slices.Contains(p.LikedBy, userID)
}

// ToggleLike flips the like of userID and returns the new state.
// The decrement is floored at 0 whatever the stored count was.
func (p *Post) ToggleLike(userID string) bool {
	if p.IsLikedBy(userID) {
		p.LikedBy = slices.DeleteFunc(p.LikedBy, func(id string) bool { return id == userID })
		p.Likes = max(p.Likes-1, 0)
		return false
	}
	p.LikedBy = append(p.LikedBy, userID)
	p.Likes = max(p.Likes, 0) + 1
	return true
}

// Apply mutates the post with an edit.
func (p *Post) Apply(patch PostPatch) {
	p.Content = strings.TrimSpace(patch.Content)
	switch {
	case patch.Media != nil:
		m := *patch.Media
		p.Media = &m
	case patch.ClearMedia:
		p.Media = nil
	}
	p.UpdatedAt = time.Now().UTC()
}

// RepairedLikes is the value a negative like counter is reset to: the number of
// likers when known, 0 otherwise.
func (p *Post) RepairedLikes() int {
	return max(len(p.LikedBy), 0)
}

// Position is the cursor pointing right after this post.
func (p *Post) Position() *FeedCursor {
	return &FeedCursor{CreatedAt: p.CreatedAt, PostID: p.ID}
}

// AuthorIDs returns the distinct author ids of posts, in first-seen order.
func AuthorIDs(posts []*Post) []string {
	seen := make(map[string]struct{}, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if p == nil || p.AuthorID == "" {
			continue
		}
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		ids = append(ids, p.AuthorID)
	}
	return ids
}
