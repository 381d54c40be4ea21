package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// ballotDoc is the BSON shape of a domain.StoredBallot. Exactly one of the
// variant-specific payload fields is populated, mirroring domain.Ballot's
// tagged union.
type ballotDoc struct {
	Variant    string `bson:"variant"`
	Multiplier int32  `bson:"multiplier"`

	TopicID     string `bson:"topic_id"`
	BallotID    string `bson:"ballot_id"`
	IP          string `bson:"ip"`
	UserAgent   string `bson:"user_agent"`
	TimestampMs int64  `bson:"timestamp_ms"`

	// pairwise
	Win  *int32 `bson:"win,omitempty"`
	Lose *int32 `bson:"lose,omitempty"`

	// setwise
	LeftSet       []int32 `bson:"left_set,omitempty"`
	RightSet      []int32 `bson:"right_set,omitempty"`
	SelectedLeft  []int32 `bson:"selected_left,omitempty"`
	SelectedRight []int32 `bson:"selected_right,omitempty"`

	// groupwise
	LeftGroup     []int32 `bson:"left_group,omitempty"`
	RightGroup    []int32 `bson:"right_group,omitempty"`
	SelectedGroup string  `bson:"selected_group,omitempty"`

	// plurality
	Candidates []int32 `bson:"candidates,omitempty"`
	Selected   *int32  `bson:"selected,omitempty"`
}

func ballotToDoc(sb domain.StoredBallot) ballotDoc {
	b := sb.Ballot
	info := b.Info()
	d := ballotDoc{
		Variant:     string(b.Variant),
		Multiplier:  sb.Multiplier,
		TopicID:     info.TopicID,
		BallotID:    info.BallotID,
		IP:          info.IP,
		UserAgent:   info.UserAgent,
		TimestampMs: info.TimestampMs,
	}
	switch b.Variant {
	case domain.VariantPairwise:
		d.Win = &b.Pairwise.Win
		d.Lose = &b.Pairwise.Lose
	case domain.VariantSetwise:
		d.LeftSet = b.Setwise.LeftSet
		d.RightSet = b.Setwise.RightSet
		d.SelectedLeft = b.Setwise.SelectedLeft
		d.SelectedRight = b.Setwise.SelectedRight
	case domain.VariantGroupwise:
		d.LeftGroup = b.Groupwise.LeftGroup
		d.RightGroup = b.Groupwise.RightGroup
		d.SelectedGroup = string(b.Groupwise.SelectedGroup)
	case domain.VariantPlurality:
		d.Candidates = b.Plurality.Candidates
		d.Selected = &b.Plurality.Selected
	}
	return d
}

// InsertMany archives StoredBallots into the topic's dedicated collection
// (ballots_{topicID}), used by the aggregator's batched flush.
func (s *Store) InsertMany(ctx context.Context, topicID string, ballots []domain.StoredBallot) error {
	if len(ballots) == 0 {
		return nil
	}
	ctx, end := startSpan(ctx, "ballots.InsertMany", "ballots_"+topicID)
	defer end()

	docs := make([]interface{}, 0, len(ballots))
	for _, b := range ballots {
		docs = append(docs, ballotToDoc(b))
	}
	if _, err := s.ballotsColl(topicID).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("op=ballots.insertMany: %w: %v", domain.ErrDocStore, err)
	}
	return nil
}

// InsertFallback archives a single StoredBallot into the generic ballots
// collection rather than a per-topic one.
func (s *Store) InsertFallback(ctx context.Context, ballot domain.StoredBallot) error {
	ctx, end := startSpan(ctx, "ballots.InsertFallback", "ballots")
	defer end()

	if _, err := s.fallbackBallotsColl().InsertOne(ctx, ballotToDoc(ballot)); err != nil {
		return fmt.Errorf("op=ballots.insertFallback: %w: %v", domain.ErrDocStore, err)
	}
	return nil
}

// deadLetterDoc is the BSON shape of a domain.DeadLetterMessage.
type deadLetterDoc struct {
	OriginalPayload     []byte    `bson:"original_payload"`
	ErrorMessage        string    `bson:"error_message"`
	RetryCount          int       `bson:"retry_count"`
	FirstErrorTimestamp time.Time `bson:"first_error_timestamp"`
	LastErrorTimestamp  time.Time `bson:"last_error_timestamp"`
	Subject             string    `bson:"subject"`
}

// Insert archives a message that exceeded the DLQ retry ladder.
func (s *Store) Insert(ctx context.Context, msg domain.DeadLetterMessage) error {
	ctx, end := startSpan(ctx, "dlq.Insert", "dead_letter_queue")
	defer end()

	d := deadLetterDoc{
		OriginalPayload:     msg.OriginalPayload,
		ErrorMessage:        msg.ErrorMessage,
		RetryCount:          msg.RetryCount,
		FirstErrorTimestamp: msg.FirstErrorTimestamp,
		LastErrorTimestamp:  msg.LastErrorTimestamp,
		Subject:             msg.Subject,
	}
	if _, err := s.dlqColl().InsertOne(ctx, d); err != nil {
		return fmt.Errorf("op=dlq.insert: %w: %v", domain.ErrDocStore, err)
	}
	return nil
}
