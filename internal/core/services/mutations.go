package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

// --- OPTIMISTIC MUTATIONS ---
// Every mutation validates its input, then the viewer, then the local presence of the
// post, before touching any state.

func (f *Feed) requireViewer(op string) (domain.Viewer, error) {
	viewer := f.viewer.CurrentViewer()
	if viewer.Anonymous() {
		return viewer, domain.NewNotAuthenticatedError(op)
	}
	return viewer, nil
}

// mutatePost applies fn to the local copy of postID and notifies observers.
func (f *Feed) mutatePost(op, postID string, fn func(p *domain.Post)) error {
	f.mu.Lock()
	i := f.indexOf(postID)
	if i < 0 {
		f.mu.Unlock()
		return domain.NewNotFoundError(op, postID)
	}
	fn(f.list[i])
	f.mu.Unlock()

	f.notify()
	return nil
}

func (f *Feed) hasPost(op, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexOf(postID) < 0 {
		return domain.NewNotFoundError(op, postID)
	}
	return nil
}

// Like toggles the viewer's like locally, then on the server. A rejected write triggers
// a full resynchronization of the list.
func (f *Feed) Like(ctx context.Context, postID string) error {
	viewer, err := f.requireViewer("like")
	if err != nil {
		return err
	}

	var liked bool
	if err := f.mutatePost("like", postID, func(p *domain.Post) { liked = p.ToggleLike(viewer.ID) }); err != nil {
		return err
	}

	if err := f.posts.ToggleLike(ctx, postID, viewer.ID); err != nil {
		slog.Warn("like rejected, resynchronizing feed", "post_id", postID, "liked", liked, "error", err)
		f.resync(ctx)
		return domain.NewRemoteWriteError("like", postID, err)
	}
	return nil
}

// resync replaces the list with a fresh read covering at least the visible window.
func (f *Feed) resync(ctx context.Context) {
	limit := max(f.opts.RecentLimit, f.Len())
	posts, err := f.posts.FetchOnce(ctx, limit)
	if err != nil {
		slog.Error("feed resynchronization failed", "error", err)
		return
	}
	f.replaceList(ctx, posts, tailCursor(posts))
}

// Comment bumps the comment counter locally and sends the comment. The draft is cleared
// once the server accepted it; the counter is never rolled back.
func (f *Feed) Comment(ctx context.Context, postID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.NewEmptyInputError("comment", postID, "text")
	}
	viewer, err := f.requireViewer("comment")
	if err != nil {
		return err
	}

	if err := f.mutatePost("comment", postID, func(p *domain.Post) { p.Comments++ }); err != nil {
		return err
	}

	if err := f.posts.AddComment(ctx, postID, viewer.ID, text); err != nil {
		slog.Warn("comment rejected", "post_id", postID, "error", err)
		return domain.NewRemoteWriteError("comment", postID, err)
	}

	f.clearTransient(postID, func(st *domain.TransientState) { st.CommentDraft = "" })
	return nil
}

// Edit replaces the content (and optionally the image) locally, then on the server.
// A rejected edit stays visible until the next push.
func (f *Feed) Edit(ctx context.Context, postID string, in ports.EditInput) error {
	if strings.TrimSpace(in.Text) == "" {
		return domain.NewEmptyInputError("edit", postID, "text")
	}
	viewer, err := f.requireViewer("edit")
	if err != nil {
		return err
	}

	patch := domain.PostPatch{Content: in.Text, Media: in.Image, ClearMedia: in.ClearImage}
	if err := f.mutatePost("edit", postID, func(p *domain.Post) { p.Apply(patch) }); err != nil {
		return err
	}

	if err := f.posts.UpdatePost(ctx, postID, viewer.ID, patch); err != nil {
		slog.Warn("edit rejected", "post_id", postID, "error", err)
		return domain.NewRemoteWriteError("edit", postID, err)
	}

	f.clearTransient(postID, func(st *domain.TransientState) {
		st.Editing = false
		st.EditDraft = ""
	})
	return nil
}

// Delete removes the post on the server first; the local copy goes only on success.
func (f *Feed) Delete(ctx context.Context, postID string) error {
	viewer, err := f.requireViewer("delete")
	if err != nil {
		return err
	}
	if err := f.hasPost("delete", postID); err != nil {
		return err
	}

	if err := f.posts.DeletePost(ctx, postID, viewer.ID); err != nil {
		slog.Warn("delete rejected", "post_id", postID, "error", err)
		return domain.NewRemoteWriteError("delete", postID, err)
	}

	f.mu.Lock()
	if i := f.indexOf(postID); i >= 0 {
		f.list = append(f.list[:i], f.list[i+1:]...)
	}
	delete(f.transient, postID)
	f.mu.Unlock()

	f.syncAuthors(ctx)
	f.notify()
	return nil
}

// Share bumps the share counter locally and on the server. Shares only ever grow.
func (f *Feed) Share(ctx context.Context, postID string) error {
	if _, err := f.requireViewer("share"); err != nil {
		return err
	}
	if err := f.mutatePost("share", postID, func(p *domain.Post) { p.Shares++ }); err != nil {
		return err
	}

	if err := f.posts.IncrementShares(ctx, postID); err != nil {
		slog.Warn("share rejected", "post_id", postID, "error", err)
		return domain.NewRemoteWriteError("share", postID, err)
	}
	return nil
}

// Follow toggles the follow relation to authorID. The status and the follower count are
// flipped optimistically, the graph answer is then adopted as is. A failed toggle restores
// both.
func (f *Feed) Follow(ctx context.Context, authorID string) error {
	if strings.TrimSpace(authorID) == "" {
		return domain.NewEmptyInputError("follow", "", "author_id")
	}
	viewer, err := f.requireViewer("follow")
	if err != nil {
		return err
	}
	if viewer.ID == authorID {
		return domain.NewRemoteWriteError("follow", authorID, domain.ErrSelfFollow)
	}

	// The author's subscription may be closed (e.g. the post scrolled out of the window).
	if _, err := f.profiles.Fetch(ctx, authorID); err != nil {
		if domain.IsNotFound(err) {
			return domain.NewNotFoundError("follow", authorID)
		}
		return domain.NewRemoteWriteError("follow", authorID, err)
	}

	current, err := f.follows.Ensure(ctx, authorID)
	if err != nil {
		return domain.NewRemoteWriteError("follow", authorID, err)
	}

	delta := 1
	if current {
		delta = -1
	}
	f.follows.Set(authorID, !current)
	f.profiles.AdjustFollowers(authorID, delta)
	f.notify()

	res, err := f.graph.ToggleFollow(ctx, viewer.ID, authorID)
	if err != nil {
		f.follows.Set(authorID, current)
		f.profiles.AdjustFollowers(authorID, -delta)
		f.notify()
		slog.Warn("follow toggle rejected", "author_id", authorID, "error", err)
		return domain.NewRemoteWriteError("follow", authorID, err)
	}

	f.follows.Set(authorID, res.IsFollowing)
	if res.IsFollowing == current {
		// The graph disagreed with the optimistic flip.
		f.profiles.AdjustFollowers(authorID, -delta)
	}
	f.notify()
	return nil
}

// CreatePost publishes a new post authored by the viewer. It reaches the list through the
// live subscription.
func (f *Feed) CreatePost(ctx context.Context, content string, media *domain.Media) (string, error) {
	draft := domain.PostDraft{
		AuthorID: f.viewer.CurrentViewer().ID,
		Content:  strings.TrimSpace(content),
		Media:    media,
	}
	if err := draft.Validate(); err != nil {
		return "", err
	}

	id, err := f.posts.CreatePost(ctx, draft)
	if err != nil {
		slog.Warn("post creation rejected", "error", err)
		return "", domain.NewRemoteWriteError("create", "", err)
	}
	slog.Info("post created", "post_id", id, "author_id", draft.AuthorID)
	return id, nil
}

// Report flags a post for moderation.
func (f *Feed) Report(ctx context.Context, postID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.NewEmptyInputError("report", postID, "reason")
	}
	viewer, err := f.requireViewer("report")
	if err != nil {
		return err
	}
	if err := f.hasPost("report", postID); err != nil {
		return err
	}

	if err := f.posts.Report(ctx, postID, viewer.ID, reason); err != nil {
		return domain.NewRemoteWriteError("report", postID, err)
	}
	return nil
}

// Suggestions lists accounts the viewer may want to follow.
func (f *Feed) Suggestions(ctx context.Context, limit int) ([]*domain.UserProfile, error) {
	viewer, err := f.requireViewer("suggestions")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = f.opts.PageSize
	}

	profiles, err := f.graph.Recommendations(ctx, viewer.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("suggestions: %w", err)
	}
	return profiles, nil
}

// clearTransient edits the transient state of postID if it still exists.
func (f *Feed) clearTransient(postID string, fn func(st *domain.TransientState)) {
	f.mu.Lock()
	st := f.transient[postID]
	if st != nil {
		fn(st)
	}
	f.mu.Unlock()

	if st != nil {
		f.notify()
	}
}
