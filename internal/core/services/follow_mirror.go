package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

// FollowMirror is the session-local copy of the viewer's follow status per author.
// Entries are populated lazily and only ever overwritten.
type FollowMirror struct {
	graph  ports.FollowGraph
	viewer ports.ViewerSource

	mu     sync.Mutex
	status map[string]bool
}

func NewFollowMirror(graph ports.FollowGraph, viewer ports.ViewerSource) *FollowMirror {
	return &FollowMirror{
		graph:  graph,
		viewer: viewer,
		status: make(map[string]bool),
	}
}

// Get returns the mirrored status and whether it is known.
func (m *FollowMirror) Get(authorID string) (following, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	following, known = m.status[authorID]
	return following, known
}

// Set overwrites the status of authorID.
func (m *FollowMirror) Set(authorID string, following bool) {
	m.mu.Lock()
	m.status[authorID] = following
	m.mu.Unlock()
}

// Refresh asks the follow graph for the current status of authorID. Anonymous viewers
// follow nobody and never hit the graph.
func (m *FollowMirror) Refresh(ctx context.Context, authorID string) (bool, error) {
	viewer := m.viewer.CurrentViewer()
	if viewer.Anonymous() || viewer.ID == authorID {
		m.Set(authorID, false)
		return false, nil
	}

	following, err := m.graph.IsFollowing(ctx, viewer.ID, authorID)
	if err != nil {
		slog.Warn("follow status refresh failed", "author_id", authorID, "error", err)
		return false, err
	}
	m.Set(authorID, following)
	return following, nil
}

// Ensure returns the known status, querying the graph the first time.
func (m *FollowMirror) Ensure(ctx context.Context, authorID string) (bool, error) {
	if following, known := m.Get(authorID); known {
		return following, nil
	}
	return m.Refresh(ctx, authorID)
}
