package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// poolExprDoc is the recursive BSON shape of a domain.PoolExpr, tagged by
// `type` with its kind-specific fields stored inline beside it.
type poolExprDoc struct {
	Type           string            `bson:"type"`
	CustomIDs      []int32           `bson:"custom_ids,omitempty"`
	Rarities       []int             `bson:"rarities,omitempty"`
	Professions    []string          `bson:"professions,omitempty"`
	SubProfessions []string          `bson:"sub_professions,omitempty"`
	Filter         *filterDoc        `bson:"filter,omitempty"`
	Children       []poolExprDoc     `bson:"children,omitempty"`
	Base           *poolExprDoc      `bson:"base,omitempty"`
	Exclude        *poolExprDoc      `bson:"exclude,omitempty"`
}

type filterDoc struct {
	Rarities       []int    `bson:"rarities,omitempty"`
	Professions    []string `bson:"professions,omitempty"`
	SubProfessions []string `bson:"sub_professions,omitempty"`
	MinRarity      *int     `bson:"min_rarity,omitempty"`
	MaxRarity      *int     `bson:"max_rarity,omitempty"`
	IncludeIDs     []int32  `bson:"include_ids,omitempty"`
	ExcludeIDs     []int32  `bson:"exclude_ids,omitempty"`
}

func toRarityInts(rs []domain.RarityRank) []int {
	if len(rs) == 0 {
		return nil
	}
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = int(r)
	}
	return out
}

func fromRarityInts(rs []int) []domain.RarityRank {
	if len(rs) == 0 {
		return nil
	}
	out := make([]domain.RarityRank, len(rs))
	for i, r := range rs {
		out[i] = domain.RarityRank(r)
	}
	return out
}

func poolExprToDoc(e domain.PoolExpr) poolExprDoc {
	d := poolExprDoc{
		Type:           string(e.Kind),
		CustomIDs:      e.CustomIDs,
		Rarities:       toRarityInts(e.Rarities),
		Professions:    e.Professions,
		SubProfessions: e.SubProfessions,
	}
	if e.Filter != nil {
		d.Filter = &filterDoc{
			Rarities:       toRarityInts(e.Filter.Rarities),
			Professions:    e.Filter.Professions,
			SubProfessions: e.Filter.SubProfessions,
			IncludeIDs:     e.Filter.IncludeIDs,
			ExcludeIDs:     e.Filter.ExcludeIDs,
		}
		if e.Filter.MinRarity != nil {
			v := int(*e.Filter.MinRarity)
			d.Filter.MinRarity = &v
		}
		if e.Filter.MaxRarity != nil {
			v := int(*e.Filter.MaxRarity)
			d.Filter.MaxRarity = &v
		}
	}
	for _, c := range e.Children {
		d.Children = append(d.Children, poolExprToDoc(c))
	}
	if e.Base != nil {
		b := poolExprToDoc(*e.Base)
		d.Base = &b
	}
	if e.Exclude != nil {
		ex := poolExprToDoc(*e.Exclude)
		d.Exclude = &ex
	}
	return d
}

func poolExprFromDoc(d poolExprDoc) domain.PoolExpr {
	e := domain.PoolExpr{
		Kind:           domain.PoolExprKind(d.Type),
		CustomIDs:      d.CustomIDs,
		Rarities:       fromRarityInts(d.Rarities),
		Professions:    d.Professions,
		SubProfessions: d.SubProfessions,
	}
	if d.Filter != nil {
		f := &domain.FilterPredicate{
			Rarities:       fromRarityInts(d.Filter.Rarities),
			Professions:    d.Filter.Professions,
			SubProfessions: d.Filter.SubProfessions,
			IncludeIDs:     d.Filter.IncludeIDs,
			ExcludeIDs:     d.Filter.ExcludeIDs,
		}
		if d.Filter.MinRarity != nil {
			v := domain.RarityRank(*d.Filter.MinRarity)
			f.MinRarity = &v
		}
		if d.Filter.MaxRarity != nil {
			v := domain.RarityRank(*d.Filter.MaxRarity)
			f.MaxRarity = &v
		}
		e.Filter = f
	}
	for _, c := range d.Children {
		e.Children = append(e.Children, poolExprFromDoc(c))
	}
	if d.Base != nil {
		b := poolExprFromDoc(*d.Base)
		e.Base = &b
	}
	if d.Exclude != nil {
		ex := poolExprFromDoc(*d.Exclude)
		e.Exclude = &ex
	}
	return e
}

// auditDoc is the BSON shape of a domain.TopicAuditInfo.
type auditDoc struct {
	AuditorID     string    `bson:"auditor_id"`
	AuditorName   string    `bson:"auditor_name"`
	AuditTime     time.Time `bson:"audit_time"`
	AuditReason   string    `bson:"audit_reason"`
	CategoryKind  string    `bson:"category_kind"`
	CategoryOther string    `bson:"category_other,omitempty"`
}

func auditToDoc(a *domain.TopicAuditInfo) *auditDoc {
	if a == nil {
		return nil
	}
	return &auditDoc{
		AuditorID:     a.AuditorID,
		AuditorName:   a.AuditorName,
		AuditTime:     a.AuditTime,
		AuditReason:   a.AuditReason,
		CategoryKind:  string(a.AuditCategory.Kind),
		CategoryOther: a.AuditCategory.Reason,
	}
}

func auditFromDoc(d *auditDoc) *domain.TopicAuditInfo {
	if d == nil {
		return nil
	}
	return &domain.TopicAuditInfo{
		AuditorID:   d.AuditorID,
		AuditorName: d.AuditorName,
		AuditTime:   d.AuditTime,
		AuditReason: d.AuditReason,
		AuditCategory: domain.AuditCategory{
			Kind:   domain.AuditCategoryKind(d.CategoryKind),
			Reason: d.CategoryOther,
		},
	}
}

// topicDoc is the BSON document stored in the topics collection.
type topicDoc struct {
	ID            string       `bson:"_id"`
	Name          string       `bson:"name"`
	Title         string       `bson:"title"`
	Description   string       `bson:"description"`
	TopicType     string       `bson:"topic_type"`
	CandidatePool poolExprDoc  `bson:"candidate_pool"`
	CreatedAt     time.Time    `bson:"created_at"`
	UpdatedAt     *time.Time   `bson:"updated_at,omitempty"`
	OpenTime      time.Time    `bson:"open_time"`
	CloseTime     time.Time    `bson:"close_time"`
	IsActive      bool         `bson:"is_active"`
	StatusKind    string       `bson:"status_kind"`
	StatusAudit   *auditDoc    `bson:"status_audit,omitempty"`
}

func topicToDoc(t domain.Topic) topicDoc {
	return topicDoc{
		ID:            t.ID,
		Name:          t.Name,
		Title:         t.Title,
		Description:   t.Description,
		TopicType:     string(t.TopicType),
		CandidatePool: poolExprToDoc(t.CandidatePool),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		OpenTime:      t.OpenTime,
		CloseTime:     t.CloseTime,
		IsActive:      t.IsActive,
		StatusKind:    string(t.Status.Kind),
		StatusAudit:   auditToDoc(t.Status.Audit),
	}
}

func topicFromDoc(d topicDoc) domain.Topic {
	return domain.Topic{
		ID:            d.ID,
		Name:          d.Name,
		Title:         d.Title,
		Description:   d.Description,
		TopicType:     domain.VotingTopicType(d.TopicType),
		CandidatePool: poolExprFromDoc(d.CandidatePool),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		OpenTime:      d.OpenTime,
		CloseTime:     d.CloseTime,
		IsActive:      d.IsActive,
		Status: domain.CreateTopicStatus{
			Kind:  domain.CreateTopicStatusKind(d.StatusKind),
			Audit: auditFromDoc(d.StatusAudit),
		},
	}
}

// GetTopic loads a single topic by id.
func (s *Store) GetTopic(ctx context.Context, id string) (domain.Topic, error) {
	ctx, end := startSpan(ctx, "topics.Get", "topics")
	defer end()

	var d topicDoc
	err := s.topicsColl().FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return domain.Topic{}, fmt.Errorf("op=topics.get: %w", domain.ErrTargetTopicNotFound)
	}
	if err != nil {
		return domain.Topic{}, fmt.Errorf("op=topics.get: %w: %v", domain.ErrDocStore, err)
	}
	return topicFromDoc(d), nil
}

// ListTopics loads every topic.
func (s *Store) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	ctx, end := startSpan(ctx, "topics.List", "topics")
	defer end()
	return s.queryTopics(ctx, bson.M{})
}

// ListTopicsUpdatedSince loads topics created or updated at/after since,
// feeding the cache's incremental refresh.
func (s *Store) ListTopicsUpdatedSince(ctx context.Context, since time.Time) ([]domain.Topic, error) {
	ctx, end := startSpan(ctx, "topics.ListUpdatedSince", "topics")
	defer end()
	filter := bson.M{
		"$or": bson.A{
			bson.M{"updated_at": bson.M{"$gte": since}},
			bson.M{"updated_at": nil, "created_at": bson.M{"$gte": since}},
		},
	}
	return s.queryTopics(ctx, filter)
}

// ListWaitingAudit loads every topic with status_kind=waiting_audit.
func (s *Store) ListWaitingAudit(ctx context.Context) ([]domain.Topic, error) {
	ctx, end := startSpan(ctx, "topics.ListWaitingAudit", "topics")
	defer end()
	return s.queryTopics(ctx, bson.M{"status_kind": string(domain.StatusWaitingAudit)})
}

func (s *Store) queryTopics(ctx context.Context, filter bson.M) ([]domain.Topic, error) {
	cur, err := s.topicsColl().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("op=topics.query: %w: %v", domain.ErrDocStore, err)
	}
	defer cur.Close(ctx)

	var out []domain.Topic
	for cur.Next(ctx) {
		var d topicDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("op=topics.query: %w: %v", domain.ErrDocStore, err)
		}
		out = append(out, topicFromDoc(d))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("op=topics.query: %w: %v", domain.ErrDocStore, err)
	}
	return out, nil
}

// CreateTopic inserts a new topic document.
func (s *Store) CreateTopic(ctx context.Context, t domain.Topic) error {
	ctx, end := startSpan(ctx, "topics.Create", "topics")
	defer end()
	_, err := s.topicsColl().InsertOne(ctx, topicToDoc(t))
	if err != nil {
		return fmt.Errorf("op=topics.create: %w: %v", domain.ErrDocStore, err)
	}
	return nil
}

// UpdateTopic replaces a topic document wholesale.
func (s *Store) UpdateTopic(ctx context.Context, t domain.Topic) error {
	ctx, end := startSpan(ctx, "topics.Update", "topics")
	defer end()
	res, err := s.topicsColl().ReplaceOne(ctx, bson.M{"_id": t.ID}, topicToDoc(t), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("op=topics.update: %w: %v", domain.ErrDocStore, err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return fmt.Errorf("op=topics.update: %w", domain.ErrTargetTopicNotFound)
	}
	return nil
}
