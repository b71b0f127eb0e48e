package livefeed

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

// PostRepository is the durable post storage.
type PostRepository interface {
	Recent(ctx context.Context, limit int) ([]*domain.Post, error)
	Page(ctx context.Context, cursor domain.FeedCursor, limit int) (domain.Page, error)
	Create(ctx context.Context, draft domain.PostDraft) (*domain.Post, error)
	Update(ctx context.Context, postID, userID string, patch domain.PostPatch) error
	Delete(ctx context.Context, postID, userID string) error
	ToggleLike(ctx context.Context, postID, userID string) error
	AddComment(ctx context.Context, postID, userID, text string) error
	IncrementShares(ctx context.Context, postID string) error
	Report(ctx context.Context, postID, userID, reason string) error
	ScanPosts(ctx context.Context, batchSize int, yield func([]*domain.Post) error) error
	SetLikes(ctx context.Context, postID string, likes int) error
}

// ChangeBus carries post change announcements between processes.
type ChangeBus interface {
	PublishPostChanged(ctx context.Context, change domain.PostChange) error
	SubscribePostChanges(fn func(ctx context.Context, change domain.PostChange)) (stop func(), err error)
}

// PostChannel turns a request/response repository and a change bus into a live post
// source: every write is announced, and every announcement makes subscribers re-read the
// recent window.
type PostChannel struct {
	repo PostRepository
	bus  ChangeBus
	now  func() time.Time
}

var (
	_ ports.PostStore   = (*PostChannel)(nil)
	_ ports.PostScanner = (*PostChannel)(nil)
)

func NewPostChannel(repo PostRepository, bus ChangeBus) *PostChannel {
	return &PostChannel{repo: repo, bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

func (c *PostChannel) SubscribeRecent(ctx context.Context, limit int) (<-chan domain.Snapshot, error) {
	dirty := make(chan struct{}, 1)
	stop, err := c.bus.SubscribePostChanges(func(context.Context, domain.PostChange) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Snapshot, 1)
	go func() {
		defer close(out)
		defer stop()

		c.pushRecent(ctx, limit, out, true)
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
				c.pushRecent(ctx, limit, out, false)
			}
		}
	}()
	return out, nil
}

// pushRecent re-reads the recent window. A failed first read still delivers an empty
// snapshot so the subscriber is never left waiting; later failures keep the last list.
func (c *PostChannel) pushRecent(ctx context.Context, limit int, out chan domain.Snapshot, first bool) {
	posts, err := c.repo.Recent(ctx, limit)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("recent posts read failed", "error", err, "first", first)
		if first {
			replaceLatest(out, domain.Snapshot{})
		}
		return
	}
	snap := domain.Snapshot{Posts: posts}
	if len(posts) > 0 {
		snap.Cursor = posts[len(posts)-1].Position()
	}
	replaceLatest(out, snap)
}

func (c *PostChannel) FetchPage(ctx context.Context, cursor domain.FeedCursor, limit int) (domain.Page, error) {
	return c.repo.Page(ctx, cursor, limit)
}

func (c *PostChannel) FetchOnce(ctx context.Context, limit int) ([]*domain.Post, error) {
	return c.repo.Recent(ctx, limit)
}

func (c *PostChannel) CreatePost(ctx context.Context, draft domain.PostDraft) (string, error) {
	post, err := c.repo.Create(ctx, draft)
	if err != nil {
		return "", err
	}
	c.announce(ctx, post.ID, domain.ChangeCreated)
	return post.ID, nil
}

func (c *PostChannel) UpdatePost(ctx context.Context, postID, userID string, patch domain.PostPatch) error {
	return c.write(ctx, postID, domain.ChangeUpdated, c.repo.Update(ctx, postID, userID, patch))
}

func (c *PostChannel) DeletePost(ctx context.Context, postID, userID string) error {
	return c.write(ctx, postID, domain.ChangeDeleted, c.repo.Delete(ctx, postID, userID))
}

func (c *PostChannel) ToggleLike(ctx context.Context, postID, userID string) error {
	return c.write(ctx, postID, domain.ChangeLiked, c.repo.ToggleLike(ctx, postID, userID))
}

func (c *PostChannel) AddComment(ctx context.Context, postID, userID, text string) error {
	return c.write(ctx, postID, domain.ChangeCommented, c.repo.AddComment(ctx, postID, userID, text))
}

func (c *PostChannel) IncrementShares(ctx context.Context, postID string) error {
	return c.write(ctx, postID, domain.ChangeShared, c.repo.IncrementShares(ctx, postID))
}

// Report is not visible in the feed and is not announced.
func (c *PostChannel) Report(ctx context.Context, postID, userID, reason string) error {
	return c.repo.Report(ctx, postID, userID, reason)
}

func (c *PostChannel) ScanPosts(ctx context.Context, batchSize int, yield func([]*domain.Post) error) error {
	return c.repo.ScanPosts(ctx, batchSize, yield)
}

func (c *PostChannel) SetLikes(ctx context.Context, postID string, likes int) error {
	return c.write(ctx, postID, domain.ChangeRepaired, c.repo.SetLikes(ctx, postID, likes))
}

func (c *PostChannel) write(ctx context.Context, postID string, kind domain.ChangeKind, err error) error {
	if err != nil {
		return err
	}
	c.announce(ctx, postID, kind)
	return nil
}

// announce never fails the write: the change is durable, only its broadcast is lost.
func (c *PostChannel) announce(ctx context.Context, postID string, kind domain.ChangeKind) {
	change := domain.PostChange{PostID: postID, Kind: kind, OccurredAt: c.now()}
	if err := c.bus.PublishPostChanged(ctx, change); err != nil {
		slog.Error("post change not announced", "post_id", postID, "kind", kind, "error", err)
	}
}

func replaceLatest[T any](ch chan T, v T) {
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
