package services

import (
	"context"
	"fmt"
	"log/slog"
)

// LoadMore appends the next page after the cursor. It is a no-op once the feed is
// exhausted or while another page is in flight. A page answered after the list was
// replaced by a push is dropped.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.cursor == nil || f.loading {
		f.mu.Unlock()
		return nil
	}
	cursor := *f.cursor
	generation := f.generation
	f.loading = true
	f.mu.Unlock()

	page, err := f.posts.FetchPage(ctx, cursor, f.opts.PageSize)

	f.mu.Lock()
	f.loading = false
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("load more after %s: %w", cursor.Encode(), err)
	}
	if generation != f.generation {
		f.mu.Unlock()
		slog.Debug("dropping page fetched for a replaced list", "cursor", cursor.Encode())
		return nil
	}
	for _, p := range page.Posts {
		f.list = append(f.list, p.Clone())
	}
	if len(page.Posts) < f.opts.PageSize || page.Next == nil {
		f.cursor = nil
	} else {
		f.cursor = page.Next
	}
	f.mu.Unlock()

	slog.Debug("page appended", "count", len(page.Posts), "exhausted", len(page.Posts) < f.opts.PageSize)
	f.syncAuthors(ctx)
	f.notify()
	return nil
}
