package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// FinalOrderResult is the payload of a final_order query.
type FinalOrderResult struct {
	TopicID string
	Items   []domain.FinalOrderItem
	Count   int64
}

// Matrix1v1Result is the payload of a 1v1_matrix query: "a:b" -> cell.
type Matrix1v1Result map[string]domain.MatrixCell

type cacheKind int

const (
	cacheFinalOrder cacheKind = iota
	cacheMatrix1v1
)

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// ResultService implements the result-query endpoints:
// final_order and 1v1_matrix, each backed by a short-TTL in-process cache
// keyed by (topic_id, variant).
type ResultService struct {
	cache   TopicGetter
	kv      domain.KVStore
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewResultService constructs a ResultService with the given result-cache TTL.
func NewResultService(cache TopicGetter, kv domain.KVStore, ttl time.Duration) *ResultService {
	return &ResultService{
		cache:   cache,
		kv:      kv,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(topicID string, kind cacheKind) string {
	return fmt.Sprintf("%s:%d", topicID, kind)
}

func (s *ResultService) lookup(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (s *ResultService) store(key string, v interface{}) {
	s.mu.Lock()
	s.entries[key] = cacheEntry{value: v, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
}

// FinalOrder computes the topic's ranked operator list from the running
// win/lose stats, with deterministic tie-breaking.
func (s *ResultService) FinalOrder(ctx domain.Context, topicID string) (FinalOrderResult, error) {
	topic, err := s.cache.Get(ctx, topicID)
	if err != nil {
		return FinalOrderResult{}, err
	}
	if !topic.TopicType.SupportsFinalOrder() {
		return FinalOrderResult{}, fmt.Errorf("op=result.finalOrder: %w", domain.ErrRequestTopicTypeMismatch)
	}

	key := cacheKey(topicID, cacheFinalOrder)
	if v, ok := s.lookup(key); ok {
		return v.(FinalOrderResult), nil
	}

	pool, err := s.cache.GetCandidatePool(ctx, topicID)
	if err != nil {
		return FinalOrderResult{}, err
	}
	ids := domain.SortedIDs(pool)

	wins, loses, total, err := s.kv.FinalOrder(ctx, topicID, ids)
	if err != nil {
		return FinalOrderResult{}, err
	}

	items := make([]domain.FinalOrderItem, len(ids))
	for i, id := range ids {
		var win, lose int64
		if wins[i] != nil {
			win = *wins[i]
		}
		if loses[i] != nil {
			lose = *loses[i]
		}
		rate := 0.0
		if win+lose > 0 {
			rate = float64(win) * 100.0 / float64(win+lose)
		}
		score := float64(win-lose) / 100.0
		items[i] = domain.FinalOrderItem{ID: id, Win: win, Lose: lose, Rate: rate, Score: score}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Rate != b.Rate {
			return a.Rate > b.Rate
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Win != b.Win {
			return a.Win > b.Win
		}
		return a.ID < b.ID
	})

	result := FinalOrderResult{TopicID: topicID, Items: items, Count: total}
	s.store(key, result)
	return result, nil
}

// Matrix1v1 returns the head-to-head score matrix and encounter counts
// for a topic.
func (s *ResultService) Matrix1v1(ctx domain.Context, topicID string) (Matrix1v1Result, error) {
	topic, err := s.cache.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if !topic.TopicType.SupportsMatrix1v1() {
		return nil, fmt.Errorf("op=result.matrix1v1: %w", domain.ErrRequestTopicTypeMismatch)
	}

	key := cacheKey(topicID, cacheMatrix1v1)
	if v, ok := s.lookup(key); ok {
		return v.(Matrix1v1Result), nil
	}

	matrix, counter, err := s.kv.Matrix(ctx, topicID)
	if err != nil {
		return nil, err
	}

	out := make(Matrix1v1Result, len(matrix))
	for pair, score := range matrix {
		a, b, ok := splitPair(pair)
		if !ok {
			continue
		}
		minID, maxID := a, b
		if minID > maxID {
			minID, maxID = maxID, minID
		}
		count := counter[fmt.Sprintf("%d:%d", minID, maxID)]
		out[pair] = domain.MatrixCell{Score: score, Count: count}
	}

	s.store(key, out)
	return out, nil
}

func splitPair(s string) (int32, int32, bool) {
	var a, b int32
	n, err := fmt.Sscanf(s, "%d:%d", &a, &b)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return a, b, true
}
