package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
	"github.com/ggg436/greenloops/feed-sync/internal/core/ports"
)

const profileBatchWait = 2 * time.Millisecond

type profileSubscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// AuthorProfileCache keeps exactly one live profile subscription per author of the
// visible window. Closing a subscription keeps the last known profile for rendering.
type AuthorProfileCache struct {
	store  ports.ProfileStore
	loader *dataloader.Loader[string, *domain.UserProfile]
	onPush func(ctx context.Context, authorID string)

	mu       sync.Mutex
	subs     map[string]*profileSubscription
	profiles map[string]*domain.UserProfile
	wg       sync.WaitGroup
}

// NewAuthorProfileCache builds the cache. onPush runs after every merged profile push,
// outside of any lock.
func NewAuthorProfileCache(store ports.ProfileStore, onPush func(ctx context.Context, authorID string)) *AuthorProfileCache {
	c := &AuthorProfileCache{
		store:    store,
		onPush:   onPush,
		subs:     make(map[string]*profileSubscription),
		profiles: make(map[string]*domain.UserProfile),
	}
	// Always hit the store: cached values live in c.profiles, not in the loader.
	c.loader = dataloader.NewBatchedLoader(c.batchGetProfiles,
		dataloader.WithCache[string, *domain.UserProfile](&dataloader.NoCache[string, *domain.UserProfile]{}),
		dataloader.WithWait[string, *domain.UserProfile](profileBatchWait),
	)
	return c
}

// Reconcile closes the subscriptions of authors missing from required and opens one for
// every new author. Open failures are returned joined; the author is retried on the next call.
func (c *AuthorProfileCache) Reconcile(ctx context.Context, required []string) error {
	want := make(map[string]struct{}, len(required))
	for _, id := range required {
		if id != "" {
			want[id] = struct{}{}
		}
	}

	c.mu.Lock()
	var closing []*profileSubscription
	for id, sub := range c.subs {
		if _, ok := want[id]; !ok {
			sub.cancel()
			delete(c.subs, id)
			closing = append(closing, sub)
		}
	}
	opening := make(map[string]*profileSubscription)
	for id := range want {
		if _, ok := c.subs[id]; ok {
			continue
		}
		// Reserve the slot before releasing the lock so a concurrent reconcile cannot
		// open the same author twice.
		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sub := &profileSubscription{ctx: subCtx, cancel: cancel, done: make(chan struct{})}
		c.subs[id] = sub
		opening[id] = sub
		c.wg.Add(1)
	}
	c.mu.Unlock()

	for _, sub := range closing {
		<-sub.done
	}

	var errs []error
	for id, sub := range opening {
		if err := c.open(id, sub); err != nil {
			errs = append(errs, err)
		}
	}
	if len(closing) > 0 || len(opening) > 0 {
		slog.Debug("author subscriptions reconciled", "closed", len(closing), "opened", len(opening)-len(errs), "failed", len(errs))
	}
	return errors.Join(errs...)
}

func (c *AuthorProfileCache) open(authorID string, sub *profileSubscription) error {
	ch, err := c.store.SubscribeProfile(sub.ctx, authorID)
	if err != nil {
		sub.cancel()
		c.mu.Lock()
		if c.subs[authorID] == sub {
			delete(c.subs, authorID)
		}
		c.mu.Unlock()
		close(sub.done)
		c.wg.Done()
		return fmt.Errorf("subscribe profile %s: %w", authorID, err)
	}

	go c.pump(authorID, sub, ch)
	return nil
}

func (c *AuthorProfileCache) pump(authorID string, sub *profileSubscription, ch <-chan domain.UserProfile) {
	defer c.wg.Done()
	defer close(sub.done)
	defer func() {
		// The store ended the stream on its own: free the slot so the next reconcile reopens it.
		c.mu.Lock()
		if c.subs[authorID] == sub {
			delete(c.subs, authorID)
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case profile, ok := <-ch:
			if !ok {
				return
			}
			c.mu.Lock()
			current := c.subs[authorID] == sub
			if current {
				c.profiles[authorID] = profile.Clone()
			}
			c.mu.Unlock()

			if current && c.onPush != nil {
				c.onPush(sub.ctx, authorID)
			}
		}
	}
}

// Close cancels every subscription and waits for their goroutines. Idempotent.
func (c *AuthorProfileCache) Close() {
	c.mu.Lock()
	for id, sub := range c.subs {
		sub.cancel()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Subscribed returns the authors with an open subscription, sorted.
func (c *AuthorProfileCache) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsLive reports whether authorID currently has an open subscription.
func (c *AuthorProfileCache) IsLive(authorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[authorID]
	return ok
}

// Profile returns a copy of the last known profile, or nil.
func (c *AuthorProfileCache) Profile(authorID string) *domain.UserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profiles[authorID].Clone()
}

// Put overwrites the cached profile.
func (c *AuthorProfileCache) Put(profile *domain.UserProfile) {
	if profile == nil {
		return
	}
	c.mu.Lock()
	c.profiles[profile.ID] = profile.Clone()
	c.mu.Unlock()
}

// AdjustFollowers shifts the cached follower count of authorID, floored at 0.
func (c *AuthorProfileCache) AdjustFollowers(authorID string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.profiles[authorID]; ok {
		p.AdjustFollowers(delta)
	}
}

// Fetch returns the live cached profile when a subscription is open, and otherwise reads
// it from the store on demand (batched with concurrent fetches).
func (c *AuthorProfileCache) Fetch(ctx context.Context, authorID string) (*domain.UserProfile, error) {
	c.mu.Lock()
	_, live := c.subs[authorID]
	cached := c.profiles[authorID].Clone()
	c.mu.Unlock()
	if live && cached != nil {
		return cached, nil
	}

	profile, err := c.loader.Load(ctx, authorID)()
	if err != nil {
		return nil, err
	}
	c.Put(profile)
	return profile.Clone(), nil
}

func (c *AuthorProfileCache) batchGetProfiles(ctx context.Context, ids []string) []*dataloader.Result[*domain.UserProfile] {
	found, err := c.store.GetProfiles(ctx, ids)
	results := make([]*dataloader.Result[*domain.UserProfile], len(ids))
	for i, id := range ids {
		switch {
		case err != nil:
			results[i] = &dataloader.Result[*domain.UserProfile]{Error: err}
		case found[id] == nil:
			results[i] = &dataloader.Result[*domain.UserProfile]{Error: domain.NewNotFoundError("profile", id)}
		default:
			results[i] = &dataloader.Result[*domain.UserProfile]{Data: found[id]}
		}
	}
	return results
}
