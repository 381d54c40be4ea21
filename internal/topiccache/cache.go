// Package topiccache implements the topic service's in-memory cache: a
// concurrent, self-refreshing mirror of the topic collection plus
// memoized candidate pools.
//
// A mutex-guarded map with per-entry locks serves reads; a second
// RWMutex serializes full reloads against single-topic fetches.
package topiccache

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// entry is the cached form of a topic: the topic itself, its memoized
// candidate pool (nil until first evaluated; empty pools are never
// memoized), and a last-access timestamp kept for potential future
// eviction.
type entry struct {
	mu           sync.RWMutex
	topic        domain.Topic
	pool         []int32
	lastAccessed atomic64
}

type atomic64 struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomic64) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomic64) load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// Cache is the concurrent, self-refreshing topic cache.
type Cache struct {
	store    domain.TopicStore
	catalog  *domain.Catalog
	now      func() time.Time

	mu      sync.RWMutex // guards the entries map itself (inserts/lookups)
	entries map[string]*entry

	refreshMu sync.RWMutex // serializes full reloads against single-topic fetches

	lastFullRefreshMu sync.Mutex
	lastFullRefresh   time.Time
}

// New constructs an empty Cache. Call Warm to perform the initial full
// load before serving traffic, and Run to start the background updater.
func New(store domain.TopicStore, catalog *domain.Catalog) *Cache {
	return &Cache{
		store:   store,
		catalog: catalog,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Warm performs the initial full load from the document store and marks
// the refresh time.
func (c *Cache) Warm(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	topics, err := c.store.ListTopics(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, t := range topics {
		c.upsertLocked(t)
	}
	c.mu.Unlock()
	c.setLastFullRefresh(c.now())
	return nil
}

// Run starts the background updater: every second, query topics updated
// since the last refresh and upsert them; on error, fall back to a full
// reload.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.incrementalUpdate(ctx)
		}
	}
}

func (c *Cache) incrementalUpdate(ctx context.Context) {
	since := c.getLastFullRefresh()
	topics, err := c.store.ListTopicsUpdatedSince(ctx, since)
	if err != nil {
		_ = c.Warm(ctx)
		return
	}
	c.mu.Lock()
	for _, t := range topics {
		c.upsertLocked(t)
	}
	c.mu.Unlock()
	c.setLastFullRefresh(c.now())
}

// upsertLocked replaces the cached topic iff (cached.UpdatedAt is nil
// and new has one) OR (both non-nil and cached.UpdatedAt <
// new.UpdatedAt) OR (both nil and description/name/is_active differ).
// Caller holds c.mu.
func (c *Cache) upsertLocked(t domain.Topic) {
	e, ok := c.entries[t.ID]
	if !ok {
		ne := &entry{topic: t}
		ne.lastAccessed.store(c.now())
		c.entries[t.ID] = ne
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cached := e.topic

	shouldReplace := false
	switch {
	case cached.UpdatedAt == nil && t.UpdatedAt != nil:
		shouldReplace = true
	case cached.UpdatedAt != nil && t.UpdatedAt != nil:
		shouldReplace = cached.UpdatedAt.Before(*t.UpdatedAt)
	case cached.UpdatedAt == nil && t.UpdatedAt == nil:
		shouldReplace = cached.Description != t.Description || cached.Name != t.Name || cached.IsActive != t.IsActive
	}
	if shouldReplace {
		e.topic = t
		e.pool = nil // pool may now be stale; re-evaluated on next access
	}
}

func (c *Cache) setLastFullRefresh(t time.Time) {
	c.lastFullRefreshMu.Lock()
	c.lastFullRefresh = t
	c.lastFullRefreshMu.Unlock()
}

func (c *Cache) getLastFullRefresh() time.Time {
	c.lastFullRefreshMu.Lock()
	defer c.lastFullRefreshMu.Unlock()
	return c.lastFullRefresh
}

// Get returns a cache hit immediately; on miss it acquires the refresh
// read lock and performs a single-topic fetch. Concurrent misses for
// the same key are not deduplicated; duplicate fetches are tolerated.
func (c *Cache) Get(ctx context.Context, topicID string) (domain.Topic, error) {
	c.mu.RLock()
	e, ok := c.entries[topicID]
	c.mu.RUnlock()
	if ok {
		e.mu.RLock()
		t := e.topic
		e.mu.RUnlock()
		e.lastAccessed.store(c.now())
		return t, nil
	}

	c.refreshMu.RLock()
	defer c.refreshMu.RUnlock()

	t, err := c.store.GetTopic(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	c.mu.Lock()
	c.upsertLocked(t)
	c.mu.Unlock()
	return t, nil
}

// GetCandidatePool returns a cache hit on the pre-materialized pool
// directly; otherwise it evaluates the PoolExpr and memoizes the result
// on the cache entry. Empty pools are never memoized, so a topic whose
// catalog slice was empty at first access re-evaluates later.
func (c *Cache) GetCandidatePool(ctx context.Context, topicID string) ([]int32, error) {
	if _, err := c.Get(ctx, topicID); err != nil {
		return nil, err
	}

	c.mu.RLock()
	e := c.entries[topicID]
	c.mu.RUnlock()

	e.mu.RLock()
	if e.pool != nil {
		pool := e.pool
		e.mu.RUnlock()
		return pool, nil
	}
	expr := e.topic.CandidatePool
	e.mu.RUnlock()

	pool := expr.Evaluate(c.catalog)
	if len(pool) > 0 {
		e.mu.Lock()
		e.pool = pool
		e.mu.Unlock()
	}
	return pool, nil
}

// ActiveTopicIDs returns a synchronous snapshot of every cached topic
// whose IsActive flag is set. It does not re-validate the open/close
// window; that is the caller's responsibility.
func (c *Cache) ActiveTopicIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		e.mu.RLock()
		active := e.topic.IsActive
		e.mu.RUnlock()
		if active {
			out = append(out, id)
		}
	}
	return out
}

// AuditTopic writes the audit decision, re-reads the topic from the
// store and refreshes the cache entry. Status is Approved iff
// info.AuditCategory is ContentCompliance, else Rejected.
func (c *Cache) AuditTopic(ctx context.Context, topicID string, info domain.TopicAuditInfo) (domain.Topic, error) {
	t, err := c.store.GetTopic(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}

	now := c.now()
	t.UpdatedAt = &now
	if info.IsApproved() {
		t.Status = domain.CreateTopicStatus{Kind: domain.StatusApproved, Audit: &info}
	} else {
		t.Status = domain.CreateTopicStatus{Kind: domain.StatusRejected, Audit: &info}
	}

	if err := c.store.UpdateTopic(ctx, t); err != nil {
		return domain.Topic{}, err
	}

	refreshed, err := c.store.GetTopic(ctx, topicID)
	if err != nil {
		return domain.Topic{}, err
	}
	c.mu.Lock()
	c.upsertLocked(refreshed)
	c.mu.Unlock()
	return refreshed, nil
}
