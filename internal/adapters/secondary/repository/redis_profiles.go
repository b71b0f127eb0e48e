package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

var ErrProfileNotFound = errors.New("profile not found")

// incrFloored bumps a hash counter without letting it go below zero.
var incrFloored = redis.NewScript(`
local v = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0') + tonumber(ARGV[2])
if v < 0 then v = 0 end
redis.call('HSET', KEYS[1], ARGV[1], v)
return v
`)

// RedisProfileRepo stores profiles as hashes and announces every change on a per-user
// pub/sub channel.
type RedisProfileRepo struct {
	client *redis.Client
}

func NewRedisProfileRepo(client *redis.Client) *RedisProfileRepo {
	return &RedisProfileRepo{client: client}
}

func profileKey(userID string) string     { return fmt.Sprintf("profile:%s", userID) }
func profileChannel(userID string) string { return fmt.Sprintf("profile.updated:%s", userID) }

func (r *RedisProfileRepo) Upsert(ctx context.Context, p *domain.UserProfile) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, profileKey(p.ID), map[string]any{
		"display_name":    p.DisplayName,
		"photo_url":       p.PhotoURL,
		"followers_count": p.FollowersCount,
		"following_count": p.FollowingCount,
	})
	pipe.Publish(ctx, profileChannel(p.ID), p.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisProfileRepo) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	fields, err := r.client.HGetAll(ctx, profileKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrProfileNotFound
	}
	return decodeProfile(userID, fields), nil
}

// GetProfiles reads every id in one pipeline round trip. Unknown ids are left out.
func (r *RedisProfileRepo) GetProfiles(ctx context.Context, userIDs []string) (map[string]*domain.UserProfile, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, profileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	found := make(map[string]*domain.UserProfile, len(userIDs))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		found[userIDs[i]] = decodeProfile(userIDs[i], fields)
	}
	return found, nil
}

// AdjustFollowCounts moves both sides of a follow edge by delta and notifies both users.
func (r *RedisProfileRepo) AdjustFollowCounts(ctx context.Context, followerID, followeeID string, delta int) error {
	if err := incrFloored.Run(ctx, r.client, []string{profileKey(followeeID)}, "followers_count", delta).Err(); err != nil {
		return fmt.Errorf("adjust followers of %s: %w", followeeID, err)
	}
	if err := incrFloored.Run(ctx, r.client, []string{profileKey(followerID)}, "following_count", delta).Err(); err != nil {
		return fmt.Errorf("adjust following of %s: %w", followerID, err)
	}

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, profileChannel(followeeID), followeeID)
	pipe.Publish(ctx, profileChannel(followerID), followerID)
	_, err := pipe.Exec(ctx)
	return err
}

// SubscribeProfile pushes the stored profile, then a fresh read after every announced change.
func (r *RedisProfileRepo) SubscribeProfile(ctx context.Context, userID string) (<-chan domain.UserProfile, error) {
	pubsub := r.client.Subscribe(ctx, profileChannel(userID))
	// Wait for the subscription to be confirmed so no update between now and the first read is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan domain.UserProfile, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		r.pushProfile(ctx, userID, out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				r.pushProfile(ctx, userID, out)
			}
		}
	}()
	return out, nil
}

func (r *RedisProfileRepo) pushProfile(ctx context.Context, userID string, out chan domain.UserProfile) {
	p, err := r.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) && ctx.Err() == nil {
			slog.Warn("profile read failed", "user_id", userID, "error", err)
		}
		return
	}
	replaceLatest(out, *p)
}

func decodeProfile(userID string, fields map[string]string) *domain.UserProfile {
	followers, _ := strconv.Atoi(fields["followers_count"])
	following, _ := strconv.Atoi(fields["following_count"])
	return &domain.UserProfile{
		ID:             userID,
		DisplayName:    fields["display_name"],
		PhotoURL:       fields["photo_url"],
		FollowersCount: followers,
		FollowingCount: following,
	}
}

// replaceLatest delivers v, dropping an undelivered older value. The caller must be the
// only sender on ch.
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
