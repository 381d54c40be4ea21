// Package usecase implements the application services sitting between the
// HTTP/stream ingress paths and the domain ports: ballot challenges, topic
// administration, and result queries.
package usecase

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

const ballotIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TopicGetter is the narrow slice of the topic cache the challenge and
// result services depend on, kept as an interface so tests can fake it
// without constructing the full cache.
type TopicGetter interface {
	Get(ctx domain.Context, topicID string) (domain.Topic, error)
	GetCandidatePool(ctx domain.Context, topicID string) ([]int32, error)
}

// CircuitBreaker is the narrow admission-control surface the challenge
// service drives, kept as an interface so the observability package's
// circuit breaker can be injected without this package importing an
// adapter directly (same pattern as aggregator.Metrics).
type CircuitBreaker interface {
	Call(fn func() error) error
}

// ChallengeService implements the ballot-challenge endpoints:
// create, save, and skip.
type ChallengeService struct {
	cache               TopicGetter
	kv                  domain.KVStore
	agg                 domain.Aggregator
	publisher           domain.Publisher
	snowflake           domain.Snowflake
	challengeTTLSeconds int
	now                 func() time.Time

	admission    CircuitBreaker
	queueCeiling int
}

// NewChallengeService constructs a ChallengeService.
func NewChallengeService(cache TopicGetter, kv domain.KVStore, agg domain.Aggregator, pub domain.Publisher, sf domain.Snowflake, challengeTTLSeconds int, opts ...ChallengeOption) *ChallengeService {
	s := &ChallengeService{
		cache:               cache,
		kv:                  kv,
		agg:                 agg,
		publisher:           pub,
		snowflake:           sf,
		challengeTTLSeconds: challengeTTLSeconds,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChallengeOption configures optional ChallengeService dependencies.
type ChallengeOption func(*ChallengeService)

// WithAdmissionControl wires the aggregator's admission-control circuit:
// once the aggregator's pending queue reaches queueCeiling, cb trips and
// /ballot/save returns ErrAggregatorOverloaded (503) instead of growing
// the channel further.
func WithAdmissionControl(cb CircuitBreaker, queueCeiling int) ChallengeOption {
	return func(s *ChallengeService) {
		s.admission = cb
		s.queueCeiling = queueCeiling
	}
}

// checkAdmission reports ErrAggregatorOverloaded when admission control is
// wired and either the circuit is already open or the aggregator's queue
// has reached its configured ceiling. With no circuit wired (the zero
// value), every call is admitted.
func (s *ChallengeService) checkAdmission() error {
	if s.admission == nil {
		return nil
	}
	if err := s.admission.Call(func() error {
		if s.agg.QueueDepth() >= s.queueCeiling {
			return domain.ErrAggregatorOverloaded
		}
		return nil
	}); err != nil {
		return fmt.Errorf("op=challenge.admission: %w", domain.ErrAggregatorOverloaded)
	}
	return nil
}

// NewPairwise creates a pairwise ballot challenge: validates the topic,
// draws two distinct candidates, mints a ballot ID, and writes the
// challenge record.
func (s *ChallengeService) NewPairwise(ctx domain.Context, topicID string) (domain.BallotChallenge, error) {
	topic, err := s.cache.Get(ctx, topicID)
	if err != nil {
		return domain.BallotChallenge{}, err
	}
	if !topic.IsTopicActive(s.now()) {
		return domain.BallotChallenge{}, fmt.Errorf("op=challenge.new: %w", domain.ErrTargetTopicNotActive)
	}
	if topic.TopicType != domain.TopicPairwise {
		return domain.BallotChallenge{}, fmt.Errorf("op=challenge.new: %w", domain.ErrRequestTopicTypeMismatch)
	}

	pool, err := s.cache.GetCandidatePool(ctx, topicID)
	if err != nil {
		return domain.BallotChallenge{}, err
	}
	if len(pool) < 2 {
		return domain.BallotChallenge{}, fmt.Errorf("op=challenge.new: %w", domain.ErrInsufficientOperators)
	}

	left, right, err := drawTwoDistinct(pool)
	if err != nil {
		return domain.BallotChallenge{}, fmt.Errorf("op=challenge.new: %w: %v", domain.ErrInternal, err)
	}

	ballotID, err := s.mintBallotID()
	if err != nil {
		return domain.BallotChallenge{}, fmt.Errorf("op=challenge.new: %w: %v", domain.ErrInternal, err)
	}

	if err := s.kv.SetChallenge(ctx, topicID, ballotID, left, right, s.challengeTTLSeconds); err != nil {
		return domain.BallotChallenge{}, err
	}

	return domain.BallotChallenge{TopicID: topicID, BallotID: ballotID, Left: left, Right: right}, nil
}

// mintBallotID builds "{snowflake}-{8 alphanumeric}".
func (s *ChallengeService) mintBallotID() (string, error) {
	suffix, err := randomAlphanumeric(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", s.snowflake.Next(), suffix), nil
}

func randomAlphanumeric(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(ballotIDAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = ballotIDAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// drawTwoDistinct picks two distinct indices out of pool uniformly without
// replacement.
func drawTwoDistinct(pool []int32) (int32, int32, error) {
	n := big.NewInt(int64(len(pool)))
	i, err := rand.Int(rand.Reader, n)
	if err != nil {
		return 0, 0, err
	}
	j, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool)-1)))
	if err != nil {
		return 0, 0, err
	}
	jIdx := j.Int64()
	if jIdx >= i.Int64() {
		jIdx++
	}
	return pool[i.Int64()], pool[jIdx], nil
}

// SavePairwiseRequest carries the fields a caller supplies to save.
type SavePairwiseRequest struct {
	TopicID  string
	BallotID string
	Winner   int32
	Loser    int32
	IP       string
	UserAgent string
}

// SavePairwise validates a completed pairwise ballot against its
// challenge record and submits it for aggregation.
func (s *ChallengeService) SavePairwise(ctx domain.Context, req SavePairwiseRequest) error {
	topic, err := s.cache.Get(ctx, req.TopicID)
	if err != nil {
		return err
	}
	if !topic.IsTopicActive(s.now()) {
		return fmt.Errorf("op=challenge.save: %w", domain.ErrTargetTopicNotActive)
	}
	if topic.TopicType != domain.TopicPairwise {
		return fmt.Errorf("op=challenge.save: %w", domain.ErrRequestTopicTypeMismatch)
	}

	key := req.TopicID + ":ballot:" + req.BallotID
	vals, err := s.kv.GetDelMany(ctx, []string{key})
	if err != nil {
		return err
	}
	if len(vals) == 0 || vals[0] == nil {
		return fmt.Errorf("op=challenge.save: %w", domain.ErrBallotNotFound)
	}

	left, right, err := parseChallengeValue(*vals[0])
	if err != nil {
		return fmt.Errorf("op=challenge.save: %w", domain.ErrInvalidBallotFormat)
	}

	if req.Winner == req.Loser {
		return fmt.Errorf("op=challenge.save: %w", domain.ErrBallotWinnerCannotLose)
	}
	if !isPairMember(req.Winner, left, right) || !isPairMember(req.Loser, left, right) {
		return fmt.Errorf("op=challenge.save: %w", domain.ErrInvalidBallotCode)
	}

	ip := req.IP
	if ip == "" {
		ip = "unknown"
	}

	if err := s.checkAdmission(); err != nil {
		return err
	}

	ballot := domain.Ballot{
		Variant: domain.VariantPairwise,
		Pairwise: &domain.PairwiseBallot{
			Info: domain.BallotInfo{
				TopicID:     req.TopicID,
				BallotID:    req.BallotID,
				IP:          ip,
				UserAgent:   req.UserAgent,
				TimestampMs: s.now().UnixMilli(),
			},
			Win:  req.Winner,
			Lose: req.Loser,
		},
	}
	return s.agg.Submit(ballot)
}

func parseChallengeValue(v string) (int32, int32, error) {
	var left, right int32
	n, err := fmt.Sscanf(v, "%d,%d", &left, &right)
	if err != nil || n != 2 {
		return 0, 0, fmt.Errorf("malformed challenge value %q", v)
	}
	return left, right, nil
}

func isPairMember(v, left, right int32) bool { return v == left || v == right }

// SkipPairwise publishes the skip event to the stream; the skip consumer
// performs the actual key deletion.
func (s *ChallengeService) SkipPairwise(ctx domain.Context, topicID, ballotID string) error {
	payload := []byte(fmt.Sprintf(`{"topic_id":%q,"ballot_id":%q}`, topicID, ballotID))
	return s.publisher.Publish(ctx, topicID+".ballot_skip", payload, nil)
}

// SaveRaw submits a Setwise/Groupwise/Plurality ballot directly to the
// aggregator for archival; these variants never update aggregates.
func (s *ChallengeService) SaveRaw(ctx domain.Context, topicID string, ballot domain.Ballot) error {
	topic, err := s.cache.Get(ctx, topicID)
	if err != nil {
		return err
	}
	if !topic.IsTopicActive(s.now()) {
		return fmt.Errorf("op=challenge.saveRaw: %w", domain.ErrTargetTopicNotActive)
	}
	if topic.TopicType != ballotVariantToTopicType(ballot.Variant) {
		return fmt.Errorf("op=challenge.saveRaw: %w", domain.ErrRequestTopicTypeMismatch)
	}
	if err := s.checkAdmission(); err != nil {
		return err
	}
	return s.agg.Submit(ballot)
}

func ballotVariantToTopicType(v domain.BallotVariant) domain.VotingTopicType {
	switch v {
	case domain.VariantSetwise:
		return domain.TopicSetwise
	case domain.VariantGroupwise:
		return domain.TopicGroupwise
	case domain.VariantPlurality:
		return domain.TopicPlurality
	default:
		return domain.TopicPairwise
	}
}
