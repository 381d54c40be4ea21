package httpserver

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// topicListRequest is the (empty) body of POST /topic/list.
type topicListRequest struct{}

// poolExprRequest mirrors domain.PoolExpr over the wire for topic creation.
type poolExprRequest struct {
	Type           string             `json:"type" validate:"required"`
	CustomIDs      []int32            `json:"custom_ids,omitempty"`
	Rarities       []int              `json:"rarities,omitempty"`
	Professions    []string           `json:"professions,omitempty"`
	SubProfessions []string           `json:"sub_professions,omitempty"`
	Filter         *filterRequest     `json:"filter,omitempty"`
	Children       []poolExprRequest  `json:"children,omitempty"`
	Base           *poolExprRequest   `json:"base,omitempty"`
	Exclude        *poolExprRequest   `json:"exclude,omitempty"`
}

type filterRequest struct {
	Rarities       []int    `json:"rarities,omitempty"`
	Professions    []string `json:"professions,omitempty"`
	SubProfessions []string `json:"sub_professions,omitempty"`
	MinRarity      *int     `json:"min_rarity,omitempty"`
	MaxRarity      *int     `json:"max_rarity,omitempty"`
	IncludeIDs     []int32  `json:"include_ids,omitempty"`
	ExcludeIDs     []int32  `json:"exclude_ids,omitempty"`
}

// topicCreateRequest is the body of POST /topic/create.
type topicCreateRequest struct {
	ID            string          `json:"id" validate:"required"`
	Name          string          `json:"name" validate:"required"`
	Title         string          `json:"title" validate:"required"`
	Description   string          `json:"description"`
	TopicType     string          `json:"topic_type" validate:"required,oneof=pairwise setwise groupwise plurality"`
	CandidatePool poolExprRequest `json:"candidate_pool" validate:"required"`
	OpenTime      string          `json:"open_time" validate:"required"`
	CloseTime     string          `json:"close_time" validate:"required"`
	IsActive      bool            `json:"is_active"`
}

// topicIDRequest is the shared body shape of /topic/info,
// /topic/candidate_pool, /results/final_order, /results/1v1_matrix.
type topicIDRequest struct {
	TopicID string `json:"topic_id" validate:"required"`
}

// ballotNewRequest is the body of POST /ballot/new.
type ballotNewRequest struct {
	TopicID  string `json:"topic_id" validate:"required"`
	BallotID string `json:"ballot_id,omitempty"`
}

// ballotSaveRequest is the tagged body of POST /ballot/save. Only the
// pairwise variant carries scoring fields; the others carry raw payload
// fields persisted without aggregate effect.
type ballotSaveRequest struct {
	Variant  string `json:"variant" validate:"required,oneof=pairwise setwise groupwise plurality"`
	TopicID  string `json:"topic_id" validate:"required"`
	BallotID string `json:"ballot_id" validate:"required"`

	// pairwise
	Winner *int32 `json:"winner,omitempty"`
	Loser  *int32 `json:"loser,omitempty"`

	// setwise
	LeftSet       []int32 `json:"left_set,omitempty"`
	RightSet      []int32 `json:"right_set,omitempty"`
	SelectedLeft  []int32 `json:"selected_left,omitempty"`
	SelectedRight []int32 `json:"selected_right,omitempty"`

	// groupwise
	LeftGroup     []int32 `json:"left_group,omitempty"`
	RightGroup    []int32 `json:"right_group,omitempty"`
	SelectedGroup string  `json:"selected_group,omitempty"`

	// plurality
	Candidates []int32 `json:"candidates,omitempty"`
	Selected   *int32  `json:"selected,omitempty"`
}

// ballotSkipRequest is the body of POST /ballot/skip.
type ballotSkipRequest struct {
	TopicID  string `json:"topic_id" validate:"required"`
	BallotID string `json:"ballot_id" validate:"required"`
}

// auditTopicRequest is the body of POST /audit/topic.
type auditTopicRequest struct {
	TopicID       string `json:"topic_id" validate:"required"`
	AuditorID     string `json:"auditor_id" validate:"required"`
	AuditorName   string `json:"auditor_name"`
	AuditReason   string `json:"audit_reason"`
	CategoryKind  string `json:"category_kind" validate:"required"`
	CategoryOther string `json:"category_other,omitempty"`
}
