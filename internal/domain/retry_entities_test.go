package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Five retries with X-Retry-Count incrementing 1..5, then the sixth
// attempt promotes to the dead letter queue with retry_count=5 and
// first <= last error timestamp.
func TestRetryLadder_PromotesToDeadLetterAfterMaxRetries(t *testing.T) {
	var env RetryEnvelope
	firstSeen := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= DLQMaxRetries; i++ {
		assert.False(t, env.ShouldMoveToDLQ(), "should still retry at attempt %d", i)
		env = env.NextAttempt(errors.New("boom"), firstSeen.Add(time.Duration(i)*time.Second))
		assert.Equal(t, i, env.RetryCount)
	}

	require.True(t, env.ShouldMoveToDLQ())

	now := firstSeen.Add(time.Minute)
	dead := env.ToDeadLetter("voting.save_score", []byte(`{"topic_id":"missing"}`), now)

	assert.Equal(t, 5, dead.RetryCount)
	assert.Equal(t, "voting.save_score", dead.Subject)
	assert.Equal(t, "boom", dead.ErrorMessage)
	assert.True(t, !dead.FirstErrorTimestamp.After(dead.LastErrorTimestamp))
	assert.Equal(t, firstSeen.Add(time.Second), dead.FirstErrorTimestamp,
		"first-error timestamp is stamped on the first failure and never moves")
	assert.Equal(t, now, dead.LastErrorTimestamp)
}

func TestNextAttempt_StampsFirstErrorOnceAndPreservesIt(t *testing.T) {
	first := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	var env RetryEnvelope
	env = env.NextAttempt(errors.New("a"), first)
	assert.Equal(t, first, env.FirstErrorTimestamp)

	env = env.NextAttempt(errors.New("b"), later)
	assert.Equal(t, first, env.FirstErrorTimestamp, "later failures must not move the first-error timestamp")
	assert.Equal(t, "b", env.LastError)
	assert.Equal(t, 2, env.RetryCount)
}

func TestRetryEnvelope_ToDeadLetter_DefaultsFirstErrorToNow(t *testing.T) {
	// An envelope restored from headers that never carried a first-error
	// timestamp falls back to the promotion time.
	env := RetryEnvelope{RetryCount: DLQMaxRetries, LastError: "x"}
	now := time.Now()
	dead := env.ToDeadLetter("s", nil, now)
	assert.Equal(t, now, dead.FirstErrorTimestamp)
}

func TestRetryEnvelope_ShouldMoveToDLQ_BoundaryAtMax(t *testing.T) {
	env := RetryEnvelope{RetryCount: DLQMaxRetries - 1}
	assert.False(t, env.ShouldMoveToDLQ())
	env.RetryCount = DLQMaxRetries
	assert.True(t, env.ShouldMoveToDLQ())
}
