package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrForbidden    = errors.New("only the author can change this post")
)

const postColumns = `id, user_id, content, media, likes, liked_by, comments, shares, created_at, updated_at`

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	media      JSONB,
	likes      INTEGER NOT NULL DEFAULT 0,
	liked_by   TEXT[] NOT NULL DEFAULT '{}',
	comments   INTEGER NOT NULL DEFAULT 0,
	shares     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_feed_order_idx ON posts (created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS post_comments (
	id         TEXT PRIMARY KEY,
	post_id    TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS post_reports (
	id         TEXT PRIMARY KEY,
	post_id    TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// mediaDTO keeps JSON tags out of the domain.
type mediaDTO struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type PostgresRepo struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
}

// EnsureSchema creates the tables and the feed-order index.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// Recent returns the `limit` most recent posts.
func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]*domain.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT ` + postColumns + ` FROM posts ORDER BY created_at DESC, id DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectRows(rows)
}

// Page is the keyset read after cursor. One extra row tells whether another page exists.
func (r *PostgresRepo) Page(ctx context.Context, cursor domain.FeedCursor, limit int) (domain.Page, error) {
	if limit <= 0 {
		return domain.Page{}, nil
	}
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, cursor.CreatedAt, cursor.PostID, limit+1)
	if err != nil {
		return domain.Page{}, err
	}
	defer rows.Close()

	posts, err := r.collectRows(rows)
	if err != nil {
		return domain.Page{}, err
	}
	page := domain.Page{Posts: posts}
	if len(posts) > limit {
		page.Posts = posts[:limit]
		page.Next = page.Posts[limit-1].Position()
	}
	return page, nil
}

func (r *PostgresRepo) Create(ctx context.Context, draft domain.PostDraft) (*domain.Post, error) {
	now := r.now()
	post := &domain.Post{
		ID:        uuid.NewString(),
		AuthorID:  draft.AuthorID,
		Content:   strings.TrimSpace(draft.Content),
		Media:     draft.Media,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mediaJSON, err := marshalMedia(post.Media)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO posts (id, user_id, content, media, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.Exec(ctx, query, post.ID, post.AuthorID, post.Content, mediaJSON, post.CreatedAt, post.UpdatedAt); err != nil {
		return nil, err
	}
	return post, nil
}

// Update applies a patch when userID is the author.
func (r *PostgresRepo) Update(ctx context.Context, postID, userID string, patch domain.PostPatch) error {
	mediaJSON, err := marshalMedia(patch.Media)
	if err != nil {
		return err
	}

	query := `
		UPDATE posts
		SET content = $1,
		    media = CASE WHEN $2::jsonb IS NOT NULL THEN $2::jsonb WHEN $3 THEN NULL ELSE media END,
		    updated_at = $4
		WHERE id = $5 AND user_id = $6
	`
	tag, err := r.db.Exec(ctx, query, strings.TrimSpace(patch.Content), mediaJSON, patch.ClearMedia, r.now(), postID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ownershipError(ctx, postID)
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, postID, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM posts WHERE id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ownershipError(ctx, postID)
	}
	return nil
}

// ToggleLike flips membership and counter in one statement; the decrement is floored at 0.
func (r *PostgresRepo) ToggleLike(ctx context.Context, postID, userID string) error {
	query := `
		UPDATE posts
		SET likes = CASE WHEN $2 = ANY(liked_by) THEN GREATEST(likes - 1, 0) ELSE GREATEST(likes, 0) + 1 END,
		    liked_by = CASE WHEN $2 = ANY(liked_by) THEN array_remove(liked_by, $2) ELSE array_append(liked_by, $2) END
		WHERE id = $1
	`
	return r.execOne(ctx, query, postID, userID)
}

// AddComment stores the comment and bumps the counter in one transaction.
func (r *PostgresRepo) AddComment(ctx context.Context, postID, userID, text string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE posts SET comments = comments + 1 WHERE id = $1`, postID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrPostNotFound
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO post_comments (id, post_id, user_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), postID, userID, text, r.now(),
		)
		return err
	})
}

func (r *PostgresRepo) IncrementShares(ctx context.Context, postID string) error {
	return r.execOne(ctx, `UPDATE posts SET shares = shares + 1 WHERE id = $1`, postID)
}

func (r *PostgresRepo) Report(ctx context.Context, postID, userID, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO post_reports (id, post_id, user_id, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), postID, userID, reason, r.now(),
	)
	if isForeignKeyViolation(err) {
		return ErrPostNotFound
	}
	return err
}

// ScanPosts walks the whole table in keyset batches. Each batch is fully read before
// yield runs, so yield may write through the same pool.
func (r *PostgresRepo) ScanPosts(ctx context.Context, batchSize int, yield func([]*domain.Post) error) error {
	var cursor *domain.FeedCursor
	for {
		var (
			batch []*domain.Post
			err   error
		)
		if cursor == nil {
			batch, err = r.Recent(ctx, batchSize)
		} else {
			var page domain.Page
			page, err = r.Page(ctx, *cursor, batchSize)
			batch = page.Posts
		}
		if err != nil {
			return fmt.Errorf("scan posts: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := yield(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		cursor = batch[len(batch)-1].Position()
	}
}

func (r *PostgresRepo) SetLikes(ctx context.Context, postID string, likes int) error {
	return r.execOne(ctx, `UPDATE posts SET likes = $2 WHERE id = $1`, postID, likes)
}

// --- Helpers ---

func (r *PostgresRepo) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// ownershipError tells a missing post from a post owned by someone else.
func (r *PostgresRepo) ownershipError(ctx context.Context, postID string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrForbidden
	}
	return ErrPostNotFound
}

func (r *PostgresRepo) collectRows(rows pgx.Rows) ([]*domain.Post, error) {
	var posts []*domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func scanPost(row pgx.Row) (*domain.Post, error) {
	var p domain.Post
	var mediaJSON []byte
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Content, &mediaJSON, &p.Likes, &p.LikedBy, &p.Comments, &p.Shares, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	p.Media = unmarshalMedia(mediaJSON)
	return &p, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func marshalMedia(m *domain.Media) ([]byte, error) {
	if m == nil || m.URL == "" {
		return nil, nil
	}
	data, err := json.Marshal(mediaDTO{Kind: string(m.Kind), URL: m.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media: %w", err)
	}
	return data, nil
}

func unmarshalMedia(data []byte) *domain.Media {
	if len(data) == 0 {
		return nil
	}
	var dto mediaDTO
	if err := json.Unmarshal(data, &dto); err != nil || dto.URL == "" {
		return nil
	}
	return &domain.Media{Kind: domain.MediaKind(dto.Kind), URL: dto.URL}
}
