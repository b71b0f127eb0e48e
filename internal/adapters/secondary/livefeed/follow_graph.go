package livefeed

import (
	"context"
	"log/slog"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

// Relations is the follow edge store.
type Relations interface {
	IsFollowing(ctx context.Context, actorID, targetID string) (bool, error)
	ToggleFollow(ctx context.Context, actorID, targetID string) (bool, error)
	RecommendedIDs(ctx context.Context, userID string, limit int) ([]string, error)
}

// FollowCounters holds the denormalized follower/following counts of profiles.
type FollowCounters interface {
	AdjustFollowCounts(ctx context.Context, followerID, followeeID string, delta int) error
	GetProfiles(ctx context.Context, userIDs []string) (map[string]*domain.UserProfile, error)
}

// FollowGraph keeps the profile counters in step with the relation store. The relation
// store is authoritative.
type FollowGraph struct {
	relations Relations
	counters  FollowCounters
}

var _ ports.FollowGraph = (*FollowGraph)(nil)

func NewFollowGraph(relations Relations, counters FollowCounters) *FollowGraph {
	return &FollowGraph{relations: relations, counters: counters}
}

func (g *FollowGraph) IsFollowing(ctx context.Context, viewerID, authorID string) (bool, error) {
	return g.relations.IsFollowing(ctx, viewerID, authorID)
}

func (g *FollowGraph) ToggleFollow(ctx context.Context, viewerID, authorID string) (domain.FollowResult, error) {
	if viewerID == authorID {
		return domain.FollowResult{}, domain.ErrSelfFollow
	}

	following, err := g.relations.ToggleFollow(ctx, viewerID, authorID)
	if err != nil {
		return domain.FollowResult{}, err
	}

	delta := -1
	if following {
		delta = 1
	}
	if err := g.counters.AdjustFollowCounts(ctx, viewerID, authorID, delta); err != nil {
		slog.Error("follow counters out of step", "viewer_id", viewerID, "author_id", authorID, "error", err)
	}
	return domain.FollowResult{IsFollowing: following}, nil
}

// Recommendations resolves the ranked ids to profiles, keeping the ranking.
func (g *FollowGraph) Recommendations(ctx context.Context, viewerID string, limit int) ([]*domain.UserProfile, error) {
	ids, err := g.relations.RecommendedIDs(ctx, viewerID, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := g.counters.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.UserProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
