package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// fakeCache is a minimal TopicGetter double.
type fakeCache struct {
	topics map[string]domain.Topic
	pools  map[string][]int32
	getErr error
}

func (f *fakeCache) Get(_ domain.Context, topicID string) (domain.Topic, error) {
	if f.getErr != nil {
		return domain.Topic{}, f.getErr
	}
	t, ok := f.topics[topicID]
	if !ok {
		return domain.Topic{}, domain.ErrTargetTopicNotFound
	}
	return t, nil
}

func (f *fakeCache) GetCandidatePool(_ domain.Context, topicID string) ([]int32, error) {
	return f.pools[topicID], nil
}

// fakeKVChallenge implements only what ChallengeService needs from
// domain.KVStore; the rest panic if called, which would surface a bug.
type fakeKVChallenge struct {
	domain.KVStore
	setChallengeCalls int
	challengeVal      string
	getDelManyResult  []*string
	getDelManyErr     error
}

func (f *fakeKVChallenge) SetChallenge(_ domain.Context, _, _ string, left, right int32, _ int) error {
	f.setChallengeCalls++
	return nil
}

func (f *fakeKVChallenge) GetDelMany(_ domain.Context, keys []string) ([]*string, error) {
	if f.getDelManyErr != nil {
		return nil, f.getDelManyErr
	}
	return f.getDelManyResult, nil
}

type fakeAgg struct {
	submitted []domain.Ballot
	err       error
	depth     int
}

func (f *fakeAgg) Submit(b domain.Ballot) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, b)
	return nil
}

func (f *fakeAgg) QueueDepth() int { return f.depth }

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(_ domain.Context, subject string, _ []byte, _ map[string]string) error {
	f.published = append(f.published, subject)
	return nil
}

type fakeSnowflake struct{ n int64 }

func (f *fakeSnowflake) Next() int64 { f.n++; return f.n }

func activeTopic(id string, topicType domain.VotingTopicType) domain.Topic {
	now := time.Now()
	return domain.Topic{
		ID:        id,
		TopicType: topicType,
		IsActive:  true,
		OpenTime:  now.Add(-time.Hour),
		CloseTime: now.Add(time.Hour),
	}
}

func strPtr(s string) *string { return &s }

func TestChallengeService_NewPairwise_HappyPath(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
		pools:  map[string][]int32{"T": {101, 102, 103}},
	}
	kv := &fakeKVChallenge{}
	svc := NewChallengeService(cache, kv, &fakeAgg{}, &fakePublisher{}, &fakeSnowflake{}, 86400)

	chal, err := svc.NewPairwise(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "T", chal.TopicID)
	assert.NotEqual(t, chal.Left, chal.Right)
	assert.Contains(t, []int32{101, 102, 103}, chal.Left)
	assert.Contains(t, []int32{101, 102, 103}, chal.Right)
	assert.Equal(t, 1, kv.setChallengeCalls)
	assert.Contains(t, chal.BallotID, "-")
}

func TestChallengeService_NewPairwise_TopicNotActive(t *testing.T) {
	topic := activeTopic("T", domain.TopicPairwise)
	topic.IsActive = false
	cache := &fakeCache{topics: map[string]domain.Topic{"T": topic}}
	svc := NewChallengeService(cache, &fakeKVChallenge{}, &fakeAgg{}, &fakePublisher{}, &fakeSnowflake{}, 86400)

	_, err := svc.NewPairwise(context.Background(), "T")
	assert.ErrorIs(t, err, domain.ErrTargetTopicNotActive)
}

func TestChallengeService_NewPairwise_WrongTopicType(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicSetwise)}}
	svc := NewChallengeService(cache, &fakeKVChallenge{}, &fakeAgg{}, &fakePublisher{}, &fakeSnowflake{}, 86400)

	_, err := svc.NewPairwise(context.Background(), "T")
	assert.ErrorIs(t, err, domain.ErrRequestTopicTypeMismatch)
}

func TestChallengeService_NewPairwise_InsufficientOperators(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
		pools:  map[string][]int32{"T": {101}},
	}
	svc := NewChallengeService(cache, &fakeKVChallenge{}, &fakeAgg{}, &fakePublisher{}, &fakeSnowflake{}, 86400)

	_, err := svc.NewPairwise(context.Background(), "T")
	assert.ErrorIs(t, err, domain.ErrInsufficientOperators)
}

func TestChallengeService_SavePairwise_HappyPath(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)}}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 102, IP: "1.2.3.4",
	})
	require.NoError(t, err)
	require.Len(t, agg.submitted, 1)
	assert.Equal(t, int32(101), agg.submitted[0].Pairwise.Win)
	assert.Equal(t, int32(102), agg.submitted[0].Pairwise.Lose)
}

// A ballot_id never created yields BallotNotFound and no aggregate
// submission.
func TestSavePairwise_UnknownBallot_NotFound(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)}}
	kv := &fakeKVChallenge{getDelManyResult: []*string{nil}}
	agg := &fakeAgg{}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "never-created", Winner: 101, Loser: 102,
	})
	assert.ErrorIs(t, err, domain.ErrBallotNotFound)
	assert.Empty(t, agg.submitted)
}

func TestSavePairwise_WinnerEqualsLoser_Rejected(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)}}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 101,
	})
	assert.ErrorIs(t, err, domain.ErrBallotWinnerCannotLose)
	assert.Empty(t, agg.submitted)
}

func TestChallengeService_SavePairwise_WinnerNotInChallengePair(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)}}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 999, Loser: 102,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBallotCode)
	assert.Empty(t, agg.submitted)
}

func TestChallengeService_SavePairwise_MalformedChallengeValue(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)}}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("garbage")}}
	svc := NewChallengeService(cache, kv, &fakeAgg{}, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 1, Loser: 2,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBallotFormat)
}

func TestChallengeService_SavePairwise_UnknownIPFallsBackToUnknown(t *testing.T) {
	cache := &fakeCache{topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)}}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 102, IP: "",
	})
	require.NoError(t, err)
	assert.Equal(t, "unknown", agg.submitted[0].Pairwise.Info.IP)
}

func TestChallengeService_SkipPairwise_PublishesSkipSubject(t *testing.T) {
	cache := &fakeCache{}
	pub := &fakePublisher{}
	svc := NewChallengeService(cache, &fakeKVChallenge{}, &fakeAgg{}, pub, &fakeSnowflake{}, 86400)

	err := svc.SkipPairwise(context.Background(), "T", "b1")
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "T.ballot_skip", pub.published[0])
}

// A create -> save round trip with a matched pair yields exactly one
// aggregate submission.
func TestCreateSaveRoundTrip_SubmitsExactlyOnce(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
		pools:  map[string][]int32{"T": {101, 102}},
	}
	kv := &fakeKVChallenge{}
	agg := &fakeAgg{}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	chal, err := svc.NewPairwise(context.Background(), "T")
	require.NoError(t, err)

	kv.getDelManyResult = []*string{strPtr(itoa32(chal.Left) + "," + itoa32(chal.Right))}
	err = svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: chal.BallotID, Winner: chal.Left, Loser: chal.Right,
	})
	require.NoError(t, err)
	assert.Len(t, agg.submitted, 1)
}

func itoa32(v int32) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// fakeCircuitBreaker runs fn while closed and fails without calling fn
// while open, mirroring the narrow surface usecase.CircuitBreaker exposes.
type fakeCircuitBreaker struct {
	open bool
}

func (f *fakeCircuitBreaker) Call(fn func() error) error {
	if f.open {
		return fmt.Errorf("circuit open")
	}
	return fn()
}

func TestSavePairwise_AdmissionControl_RejectsAtCeiling(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
	}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{depth: 10}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400,
		WithAdmissionControl(&fakeCircuitBreaker{}, 10))

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 102,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAggregatorOverloaded)
	assert.Equal(t, 503, domain.StatusBucket(err))
	assert.Empty(t, agg.submitted)
}

func TestSavePairwise_AdmissionControl_AllowsBelowCeiling(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
	}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{depth: 3}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400,
		WithAdmissionControl(&fakeCircuitBreaker{}, 10))

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 102,
	})
	require.NoError(t, err)
	assert.Len(t, agg.submitted, 1)
}

func TestSavePairwise_AdmissionControl_OpenCircuitRejects(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
	}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{depth: 0}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400,
		WithAdmissionControl(&fakeCircuitBreaker{open: true}, 10))

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 102,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAggregatorOverloaded)
	assert.Empty(t, agg.submitted)
}

func TestSavePairwise_NoAdmissionControl_AlwaysAllowed(t *testing.T) {
	cache := &fakeCache{
		topics: map[string]domain.Topic{"T": activeTopic("T", domain.TopicPairwise)},
	}
	kv := &fakeKVChallenge{getDelManyResult: []*string{strPtr("101,102")}}
	agg := &fakeAgg{depth: 999999}
	svc := NewChallengeService(cache, kv, agg, &fakePublisher{}, &fakeSnowflake{}, 86400)

	err := svc.SavePairwise(context.Background(), SavePairwiseRequest{
		TopicID: "T", BallotID: "b1", Winner: 101, Loser: 102,
	})
	require.NoError(t, err)
	assert.Len(t, agg.submitted, 1)
}
