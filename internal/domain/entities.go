// Package domain defines core entities, ports, and domain-specific errors
// for the ranking engine.
package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// VotingTopicType enumerates the scoring model a topic uses.
type VotingTopicType string

// Voting topic types.
const (
	TopicPairwise  VotingTopicType = "pairwise"
	TopicSetwise   VotingTopicType = "setwise"
	TopicGroupwise VotingTopicType = "groupwise"
	TopicPlurality VotingTopicType = "plurality"
)

// SupportsFinalOrder reports whether this topic type can be ranked by
// final_order. Only Pairwise topics carry a scoring model rich enough to
// rank (win/lose counts); the others are persisted raw.
func (t VotingTopicType) SupportsFinalOrder() bool { return t == TopicPairwise }

// SupportsMatrix1v1 reports whether this topic type supports the 1v1 matrix query.
func (t VotingTopicType) SupportsMatrix1v1() bool { return t == TopicPairwise }

// AuditCategory enumerates the reasons a topic audit decision was made,
// including the free-form Other case.
type AuditCategory struct {
	Kind   AuditCategoryKind
	Reason string // populated only when Kind == AuditCategoryOther
}

// AuditCategoryKind is the tag of an AuditCategory.
type AuditCategoryKind string

// Audit category kinds.
const (
	AuditContentCompliance    AuditCategoryKind = "content_compliance"
	AuditPoliticalSensitive   AuditCategoryKind = "political_sensitive"
	AuditInappropriateContent AuditCategoryKind = "inappropriate_content"
	AuditSpam                 AuditCategoryKind = "spam"
	AuditDuplicate            AuditCategoryKind = "duplicate"
	AuditTechnicalIssue       AuditCategoryKind = "technical_issue"
	AuditOther                AuditCategoryKind = "other"
)

// TopicAuditInfo records an auditor's decision on a topic.
type TopicAuditInfo struct {
	AuditorID     string
	AuditorName   string
	AuditTime     time.Time
	AuditReason   string
	AuditCategory AuditCategory
}

// IsApproved reports whether this audit decision approves the topic.
// Only ContentCompliance approves; every other category rejects.
func (a TopicAuditInfo) IsApproved() bool {
	return a.AuditCategory.Kind == AuditContentCompliance
}

// CreateTopicStatus is the lifecycle status of a newly created topic.
type CreateTopicStatus struct {
	Kind  CreateTopicStatusKind
	Audit *TopicAuditInfo // set for Approved and Rejected
}

// CreateTopicStatusKind is the tag of a CreateTopicStatus.
type CreateTopicStatusKind string

// Create-topic status kinds.
const (
	StatusWaitingAudit CreateTopicStatusKind = "waiting_audit"
	StatusApproved     CreateTopicStatusKind = "approved"
	StatusRejected     CreateTopicStatusKind = "rejected"
)

// Topic is a voting topic: its identity, scoring model, candidate pool
// expression, active window, and audit status.
type Topic struct {
	ID              string
	Name            string
	Title           string
	Description     string
	TopicType       VotingTopicType
	CandidatePool   PoolExpr
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	OpenTime        time.Time
	CloseTime       time.Time
	IsActive        bool
	Status          CreateTopicStatus
}

// IsTopicActive reports whether the topic is active right now:
// IsActive AND open_time <= now <= close_time.
func (t Topic) IsTopicActive(now time.Time) bool {
	return t.IsActive && !t.OpenTime.After(now) && !t.CloseTime.Before(now)
}

// Character is a single catalog entry (the voted-over entity).
type Character struct {
	ID               int32
	Name             string
	Rarity           RarityRank
	Profession       string
	SubProfessionID  string
	IsNotObtainable  bool
}

// RarityRank is the character rarity tier, Tier1 (lowest) through Tier6.
// ENum marks non-operator catalog entries that carry no tier.
type RarityRank int

// Rarity tiers.
const (
	ENum RarityRank = iota
	Tier1
	Tier2
	Tier3
	Tier4
	Tier5
	Tier6
)

// BallotInfo carries the common envelope fields of every ballot variant.
type BallotInfo struct {
	TopicID     string
	BallotID    string
	IP          string
	UserAgent   string
	TimestampMs int64
}

// BallotVariant tags which Ballot payload is populated.
type BallotVariant string

// Ballot variants.
const (
	VariantPairwise  BallotVariant = "pairwise"
	VariantSetwise   BallotVariant = "setwise"
	VariantGroupwise BallotVariant = "groupwise"
	VariantPlurality BallotVariant = "plurality"
)

// PairwiseBallot is the scoring variant: a single head-to-head decision.
type PairwiseBallot struct {
	Info BallotInfo
	Win  int32
	Lose int32
}

// SetwiseBallot is persisted raw; it never updates aggregates.
type SetwiseBallot struct {
	Info          BallotInfo
	LeftSet       []int32
	RightSet      []int32
	SelectedLeft  []int32
	SelectedRight []int32
}

// GroupwiseSelection records which side (or both, or neither) was chosen
// in a groupwise ballot.
type GroupwiseSelection string

// Groupwise selection outcomes.
const (
	GroupwiseSelectLeft  GroupwiseSelection = "left"
	GroupwiseSelectRight GroupwiseSelection = "right"
	GroupwiseSelectBoth  GroupwiseSelection = "both"
	GroupwiseSelectNone  GroupwiseSelection = "none"
)

// GroupwiseBallot is persisted raw; it never updates aggregates.
type GroupwiseBallot struct {
	Info          BallotInfo
	LeftGroup     []int32
	RightGroup    []int32
	SelectedGroup GroupwiseSelection
}

// PluralityBallot is persisted raw; it never updates aggregates.
type PluralityBallot struct {
	Info       BallotInfo
	Candidates []int32
	Selected   int32
}

// Ballot is a tagged union over the four ballot variants. Exactly one of
// the variant-specific fields is populated, selected by Variant.
type Ballot struct {
	Variant   BallotVariant
	Pairwise  *PairwiseBallot
	Setwise   *SetwiseBallot
	Groupwise *GroupwiseBallot
	Plurality *PluralityBallot
}

// Info returns the common envelope of whichever variant is populated.
func (b Ballot) Info() BallotInfo {
	switch b.Variant {
	case VariantPairwise:
		return b.Pairwise.Info
	case VariantSetwise:
		return b.Setwise.Info
	case VariantGroupwise:
		return b.Groupwise.Info
	case VariantPlurality:
		return b.Plurality.Info
	default:
		return BallotInfo{}
	}
}

// StoredBallot is the archived form of a ballot: the ballot itself plus
// the multiplier it was scored with (0 for non-Pairwise variants).
type StoredBallot struct {
	Ballot     Ballot
	Multiplier int32
}

// BallotChallenge is the short-lived KV-resident record binding a minted
// ballot ID to the pair presented to the user.
type BallotChallenge struct {
	TopicID  string
	BallotID string
	Left     int32
	Right    int32
}

// FinalOrderItem is one row of a final_order response.
type FinalOrderItem struct {
	ID    int32
	Win   int64
	Lose  int64
	Rate  float64 // percentage, e.g. 70.0
	Score float64 // (win-lose)/100
}

// FormatRate renders Rate with one decimal followed by "%".
func (f FinalOrderItem) FormatRate() string { return formatPercent(f.Rate) }

// FormatScore renders Score with two decimals.
func (f FinalOrderItem) FormatScore() string { return formatFixed2(f.Score) }

// MatrixCell is one entry of a 1v1_matrix response.
type MatrixCell struct {
	Score int64 `json:"score"`
	Count int64 `json:"count"`
}

// DeadLetterMessage is the durable audit record of a message that
// exceeded the DLQ retry ladder.
type DeadLetterMessage struct {
	OriginalPayload     []byte // raw message bytes, stored as base64 by the Mongo adapter
	ErrorMessage        string
	RetryCount          int
	FirstErrorTimestamp time.Time
	LastErrorTimestamp  time.Time
	Subject             string
}
