package topiccache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// fakeTopicStore is a small in-memory domain.TopicStore double.
type fakeTopicStore struct {
	mu     sync.Mutex
	topics map[string]domain.Topic

	listErr   error
	getErr    error
	sinceErr  error
	updateErr error
}

func newFakeTopicStore() *fakeTopicStore {
	return &fakeTopicStore{topics: map[string]domain.Topic{}}
}

func (f *fakeTopicStore) put(t domain.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[t.ID] = t
}

func (f *fakeTopicStore) GetTopic(_ context.Context, id string) (domain.Topic, error) {
	if f.getErr != nil {
		return domain.Topic{}, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrTargetTopicNotFound
	}
	return t, nil
}

func (f *fakeTopicStore) ListTopics(_ context.Context) ([]domain.Topic, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Topic, 0, len(f.topics))
	for _, t := range f.topics {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTopicStore) ListTopicsUpdatedSince(_ context.Context, since time.Time) ([]domain.Topic, error) {
	if f.sinceErr != nil {
		return nil, f.sinceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Topic
	for _, t := range f.topics {
		if t.UpdatedAt != nil && t.UpdatedAt.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTopicStore) CreateTopic(_ context.Context, t domain.Topic) error {
	f.put(t)
	return nil
}

func (f *fakeTopicStore) UpdateTopic(_ context.Context, t domain.Topic) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.put(t)
	return nil
}

func (f *fakeTopicStore) ListWaitingAudit(_ context.Context) ([]domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Topic
	for _, t := range f.topics {
		if t.Status.Kind == domain.StatusWaitingAudit {
			out = append(out, t)
		}
	}
	return out, nil
}

func testCharCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.Character{
		{ID: 101, Name: "A"}, {ID: 102, Name: "B"}, {ID: 103, Name: "C"},
	})
}

func TestCache_Warm_PopulatesFromStore(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1", IsActive: true})
	c := New(store, testCharCatalog())

	require.NoError(t, c.Warm(context.Background()))
	got, err := c.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", got.ID)
}

func TestCache_Get_MissFetchesAndCaches(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1", Name: "first"})
	c := New(store, testCharCatalog())

	got, err := c.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
}

func TestCache_Get_MissingTopic_ReturnsError(t *testing.T) {
	store := newFakeTopicStore()
	c := New(store, testCharCatalog())
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrTargetTopicNotFound)
}

func TestCache_GetCandidatePool_EvaluatesAndMemoizes(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1", CandidatePool: domain.PoolExprAllOperators()})
	c := New(store, testCharCatalog())

	pool, err := c.GetCandidatePool(context.Background(), "T1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{101, 102, 103}, pool)

	// Mutate the store's topic to a different (narrower) pool; the memoized
	// value should still be served until cache invalidation via upsert.
	store.put(domain.Topic{ID: "T1", CandidatePool: domain.PoolExprCustom([]int32{101})})
	pool2, err := c.GetCandidatePool(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, pool, pool2)
}

func TestCache_GetCandidatePool_EmptyPool_NotMemoized(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1", CandidatePool: domain.PoolExprCustom(nil)})
	c := New(store, testCharCatalog())

	pool, err := c.GetCandidatePool(context.Background(), "T1")
	require.NoError(t, err)
	assert.Empty(t, pool)

	c.mu.RLock()
	e := c.entries["T1"]
	c.mu.RUnlock()
	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Nil(t, e.pool, "empty pools must not be memoized")
}

func TestCache_ActiveTopicIDs_FiltersIsActiveOnly(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "active1", IsActive: true})
	store.put(domain.Topic{ID: "inactive1", IsActive: false})
	c := New(store, testCharCatalog())
	require.NoError(t, c.Warm(context.Background()))

	ids := c.ActiveTopicIDs()
	assert.Equal(t, []string{"active1"}, ids)
}

func TestCache_UpsertPolicy_NoUpdatedAt_ReplacesOnFieldDiff(t *testing.T) {
	store := newFakeTopicStore()
	c := New(store, testCharCatalog())

	c.mu.Lock()
	c.upsertLocked(domain.Topic{ID: "T1", Name: "old", IsActive: false})
	c.upsertLocked(domain.Topic{ID: "T1", Name: "new", IsActive: false})
	c.mu.Unlock()

	got, err := c.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name, "nil UpdatedAt on both sides replaces on field diff")
}

func TestCache_UpsertPolicy_OlderUpdatedAt_DoesNotReplace(t *testing.T) {
	store := newFakeTopicStore()
	c := New(store, testCharCatalog())

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	c.mu.Lock()
	c.upsertLocked(domain.Topic{ID: "T1", Name: "latest", UpdatedAt: &newer})
	c.upsertLocked(domain.Topic{ID: "T1", Name: "stale", UpdatedAt: &older})
	c.mu.Unlock()

	got, err := c.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "latest", got.Name)
}

func TestCache_UpsertPolicy_NilToSome_Replaces(t *testing.T) {
	store := newFakeTopicStore()
	c := New(store, testCharCatalog())

	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c.mu.Lock()
	c.upsertLocked(domain.Topic{ID: "T1", Name: "first"})
	c.upsertLocked(domain.Topic{ID: "T1", Name: "second", UpdatedAt: &newer})
	c.mu.Unlock()

	got, err := c.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)
}

func TestCache_AuditTopic_ContentCompliance_Approves(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1", Status: domain.CreateTopicStatus{Kind: domain.StatusWaitingAudit}})
	c := New(store, testCharCatalog())

	info := domain.TopicAuditInfo{AuditCategory: domain.AuditCategory{Kind: domain.AuditContentCompliance}}
	got, err := c.AuditTopic(context.Background(), "T1", info)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status.Kind)
	require.NotNil(t, got.UpdatedAt)
}

func TestCache_AuditTopic_OtherCategory_Rejects(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1"})
	c := New(store, testCharCatalog())

	info := domain.TopicAuditInfo{AuditCategory: domain.AuditCategory{Kind: domain.AuditSpam}}
	got, err := c.AuditTopic(context.Background(), "T1", info)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status.Kind)
}

func TestCache_IncrementalUpdate_FallsBackToFullReloadOnError(t *testing.T) {
	store := newFakeTopicStore()
	store.put(domain.Topic{ID: "T1", IsActive: true})
	store.sinceErr = assertErr{}
	c := New(store, testCharCatalog())

	c.incrementalUpdate(context.Background())

	got, err := c.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
