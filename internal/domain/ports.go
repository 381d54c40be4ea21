package domain

import "time"

// KVStore is the port over the shared KV Store (Redis in production),
// covering the challenge record plus the six server-side scripts.
type KVStore interface {
	// SetChallenge writes the ballot challenge value "{left},{right}"
	// with the configured TTL.
	SetChallenge(ctx Context, topicID, ballotID string, left, right int32, ttlSeconds int) error

	// IPCounterBatch runs IP_COUNTER_BATCH for the given IPs under topicID
	// and returns ip -> multiplier.
	IPCounterBatch(ctx Context, topicID string, ips []string, expireSeconds int, maxIPLimit int64, baseMultiplier, lowMultiplier int32) (map[string]int32, error)

	// ScoreUpdateBatch runs SCORE_UPDATE_BATCH over flattened
	// (topicID, win, lose, multiplier) quadruples.
	ScoreUpdateBatch(ctx Context, updates []ScoreUpdate) error

	// Record1v1Batch runs RECORD_1V1_BATCH over flattened
	// (topicID, min, max) triples.
	Record1v1Batch(ctx Context, pairs []EncounterPair) error

	// FinalOrder runs FINAL_ORDER for topicID over the given operator IDs,
	// returning parallel win/lose arrays (nil entry = missing/unparseable)
	// plus the total valid ballot count.
	FinalOrder(ctx Context, topicID string, ids []int32) (wins, loses []*int64, total int64, err error)

	// Matrix returns the full op_matrix and op_counter hashes for topicID.
	Matrix(ctx Context, topicID string) (matrix map[string]int64, counter map[string]int64, err error)

	// GetDelMany runs GET_DEL_MANY over the given keys, returning each
	// key's value (nil if absent) and deleting present keys.
	GetDelMany(ctx Context, keys []string) ([]*string, error)

	// DelMultiple runs DEL_MULTIPLE over the given keys.
	DelMultiple(ctx Context, keys []string) error
}

// ScoreUpdate is one (topic, win, lose, multiplier) quadruple for
// SCORE_UPDATE_BATCH.
type ScoreUpdate struct {
	TopicID    string
	Win        int32
	Lose       int32
	Multiplier int32
}

// EncounterPair is one (topic, min, max) triple for RECORD_1V1_BATCH.
type EncounterPair struct {
	TopicID string
	Min     int32
	Max     int32
}

// TopicStore is the port over the Document Store's topics collection.
type TopicStore interface {
	GetTopic(ctx Context, id string) (Topic, error)
	ListTopics(ctx Context) ([]Topic, error)
	ListTopicsUpdatedSince(ctx Context, since time.Time) ([]Topic, error)
	CreateTopic(ctx Context, t Topic) error
	UpdateTopic(ctx Context, t Topic) error
	ListWaitingAudit(ctx Context) ([]Topic, error)
}

// BallotArchive is the port over the Document Store's ballot collections
// (ballots_{topic_id} and the generic ballots fallback).
type BallotArchive interface {
	// InsertMany archives StoredBallots for a single topic's dedicated
	// collection (ballots_{topicID}).
	InsertMany(ctx Context, topicID string, ballots []StoredBallot) error

	// InsertFallback archives a StoredBallot into the generic ballots
	// collection rather than a per-topic one.
	InsertFallback(ctx Context, ballot StoredBallot) error
}

// DeadLetterArchive is the port over the dead_letter_queue collection.
type DeadLetterArchive interface {
	Insert(ctx Context, msg DeadLetterMessage) error
}

// Aggregator is the port the HTTP/consumer ingress paths submit ballots
// through.
type Aggregator interface {
	// Submit enqueues onto the aggregator's buffered input channel; it
	// blocks while the buffer is full and fails only if the aggregator
	// has shut down.
	Submit(ballot Ballot) error

	// QueueDepth reports the number of ballots currently buffered in the
	// aggregator's input channel, used by admission control to decide
	// whether to reject new submissions.
	QueueDepth() int
}

// Publisher is the port over the Message Stream's publish side.
type Publisher interface {
	Publish(ctx Context, subject string, payload []byte, headers map[string]string) error
}

// Snowflake is the port over the monotonically increasing 64-bit ID
// generator. This package only depends on the narrow Next() contract,
// never on how IDs are minted.
type Snowflake interface {
	Next() int64
}
