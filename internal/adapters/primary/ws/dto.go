package ws

import (
	"time"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

// --- CLIENT → SERVER ---

type command struct {
	Op string `json:"op"`

	// Ref is echoed back in the reply so the client can correlate it.
	Ref string `json:"ref,omitempty"`

	PostID     string `json:"postId,omitempty"`
	AuthorID   string `json:"authorId,omitempty"`
	Text       string `json:"text,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	ClearImage bool   `json:"clearImage,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// --- SERVER → CLIENT ---

const (
	msgView        = "view"
	msgAck         = "ack"
	msgError       = "error"
	msgCreated     = "created"
	msgSuggestions = "suggestions"
)

type serverMessage struct {
	Type     string        `json:"type"`
	Op       string        `json:"op,omitempty"`
	Ref      string        `json:"ref,omitempty"`
	View     *viewDTO      `json:"view,omitempty"`
	Code     string        `json:"code,omitempty"`
	Message  string        `json:"message,omitempty"`
	PostID   string        `json:"postId,omitempty"`
	Profiles []*profileDTO `json:"profiles,omitempty"`
}

type viewerDTO struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type viewDTO struct {
	Viewer  viewerDTO      `json:"viewer"`
	Posts   []*postViewDTO `json:"posts"`
	HasMore bool           `json:"hasMore"`
	Empty   bool           `json:"empty"`
}

type mediaDTO struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type profileDTO struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	PhotoURL       string `json:"photoUrl,omitempty"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
}

type transientDTO struct {
	CommentsOpen bool   `json:"commentsOpen"`
	CommentDraft string `json:"commentDraft,omitempty"`
	Editing      bool   `json:"editing"`
	EditDraft    string `json:"editDraft,omitempty"`
}

type postViewDTO struct {
	ID        string       `json:"id"`
	AuthorID  string       `json:"authorId"`
	Author    *profileDTO  `json:"author,omitempty"`
	Following bool         `json:"following"`
	Content   string       `json:"content"`
	Media     *mediaDTO    `json:"media,omitempty"`
	Likes     int          `json:"likes"`
	LikedByMe bool         `json:"likedByMe"`
	Comments  int          `json:"comments"`
	Shares    int          `json:"shares"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Transient transientDTO `json:"transient"`
}

// --- MAPPERS ---

func toViewDTO(v domain.FeedView) *viewDTO {
	out := &viewDTO{
		Viewer: viewerDTO{
			ID:          v.Viewer.ID,
			DisplayName: v.Viewer.DisplayName,
			AvatarURL:   v.Viewer.AvatarURL,
		},
		Posts:   make([]*postViewDTO, 0, len(v.Posts)),
		HasMore: v.HasMore,
		Empty:   v.Empty,
	}
	for _, pv := range v.Posts {
		out.Posts = append(out.Posts, toPostViewDTO(pv))
	}
	return out
}

func toPostViewDTO(pv domain.PostView) *postViewDTO {
	p := pv.Post
	dto := &postViewDTO{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Author:    toProfileDTO(pv.Author),
		Following: pv.Following,
		Content:   p.Content,
		Likes:     p.Likes,
		LikedByMe: pv.LikedByMe,
		Comments:  p.Comments,
		Shares:    p.Shares,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
		Transient: transientDTO{
			CommentsOpen: pv.Transient.CommentsOpen,
			CommentDraft: pv.Transient.CommentDraft,
			Editing:      pv.Transient.Editing,
			EditDraft:    pv.Transient.EditDraft,
		},
	}
	if p.Media != nil {
		dto.Media = &mediaDTO{Kind: string(p.Media.Kind), URL: p.Media.URL}
	}
	return dto
}

func toProfileDTO(p *domain.UserProfile) *profileDTO {
	if p == nil {
		return nil
	}
	return &profileDTO{
		ID:             p.ID,
		DisplayName:    p.DisplayName,
		PhotoURL:       p.PhotoURL,
		FollowersCount: p.FollowersCount,
		FollowingCount: p.FollowingCount,
	}
}

func toProfileDTOs(profiles []*domain.UserProfile) []*profileDTO {
	out := make([]*profileDTO, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, toProfileDTO(p))
	}
	return out
}

// errorMessage picks the user-facing text of a failed command.
func errorMessage(op string, code domain.ErrorCode) string {
	switch code {
	case domain.CodeNotAuthenticated:
		return "Please sign in to continue."
	case domain.CodeEmptyInput:
		if op == "report" {
			return "Please give a reason for the report."
		}
		return "Please write something first."
	case domain.CodeNotFound:
		return "This content is no longer available."
	case domain.CodeRemoteWrite:
		switch op {
		case "comment":
			return "Your comment could not be posted."
		case "edit":
			return "Your changes could not be saved."
		case "delete":
			return "The post could not be deleted."
		case "follow":
			return "Could not update your follow status."
		}
		return "Something went wrong, please try again."
	}
	return "Something went wrong, please try again."
}
