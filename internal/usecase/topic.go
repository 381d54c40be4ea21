package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// TopicCache is the full surface the topic service needs from the
// in-memory topic cache.
type TopicCache interface {
	TopicGetter
	ActiveTopicIDs() []string
	AuditTopic(ctx domain.Context, topicID string, info domain.TopicAuditInfo) (domain.Topic, error)
}

// CharacterPortrait is the HTTP-facing presentation of a catalog entry
// returned by candidate_pool. Portrait image
// resolution is an external collaborator out of scope here; this carries
// only the catalog fields needed to render a pool.
type CharacterPortrait struct {
	ID         int32             `json:"id"`
	Name       string            `json:"name"`
	Rarity     domain.RarityRank `json:"rarity"`
	Profession string            `json:"profession"`
}

// TopicService implements the topic administration endpoints: list,
// create, info, candidate_pool, audit.
type TopicService struct {
	cache   TopicCache
	store   domain.TopicStore
	catalog *domain.Catalog
	now     func() time.Time
}

// NewTopicService constructs a TopicService.
func NewTopicService(cache TopicCache, store domain.TopicStore, catalog *domain.Catalog) *TopicService {
	return &TopicService{cache: cache, store: store, catalog: catalog, now: time.Now}
}

// List returns every active topic ID.
func (s *TopicService) List(_ domain.Context) []string {
	return s.cache.ActiveTopicIDs()
}

// TopicCreateRequest carries the fields required to create a topic.
type TopicCreateRequest struct {
	ID            string
	Name          string
	Title         string
	Description   string
	TopicType     domain.VotingTopicType
	CandidatePool domain.PoolExpr
	OpenTime      time.Time
	CloseTime     time.Time
	IsActive      bool
}

// Create inserts a new topic with status WaitingAudit; no code path in
// this system auto-approves a user-submitted topic.
func (s *TopicService) Create(ctx domain.Context, req TopicCreateRequest) (domain.Topic, error) {
	now := s.now()
	t := domain.Topic{
		ID:            req.ID,
		Name:          req.Name,
		Title:         req.Title,
		Description:   req.Description,
		TopicType:     req.TopicType,
		CandidatePool: req.CandidatePool,
		CreatedAt:     now,
		OpenTime:      req.OpenTime,
		CloseTime:     req.CloseTime,
		IsActive:      req.IsActive,
		Status:        domain.CreateTopicStatus{Kind: domain.StatusWaitingAudit},
	}
	if err := s.store.CreateTopic(ctx, t); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

// Info returns the full topic record.
func (s *TopicService) Info(ctx domain.Context, topicID string) (domain.Topic, error) {
	return s.cache.Get(ctx, topicID)
}

// CandidatePool resolves a topic's candidate pool into catalog entries,
// sorted by ID for a stable response.
func (s *TopicService) CandidatePool(ctx domain.Context, topicID string) ([]CharacterPortrait, error) {
	ids, err := s.cache.GetCandidatePool(ctx, topicID)
	if err != nil {
		return nil, err
	}
	sorted := domain.SortedIDs(ids)
	out := make([]CharacterPortrait, 0, len(sorted))
	for _, id := range sorted {
		ch, ok := s.catalog.Get(id)
		if !ok {
			continue
		}
		out = append(out, CharacterPortrait{ID: ch.ID, Name: ch.Name, Rarity: ch.Rarity, Profession: ch.Profession})
	}
	return out, nil
}

// AuditTopic records an audit decision.
func (s *TopicService) AuditTopic(ctx domain.Context, topicID string, info domain.TopicAuditInfo) error {
	_, err := s.cache.AuditTopic(ctx, topicID, info)
	return err
}

// NeedAuditTopics returns every topic waiting on an audit decision.
func (s *TopicService) NeedAuditTopics(ctx domain.Context) ([]domain.Topic, error) {
	topics, err := s.store.ListWaitingAudit(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=topic.needAudit: %w", err)
	}
	return topics, nil
}
