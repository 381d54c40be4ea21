package domain

import "time"

// RetryEnvelope tracks the header-based retry bookkeeping carried on a
// re-published stream message: X-Retry-Count, X-First-error-Timestamp,
// and X-Last-error.
type RetryEnvelope struct {
	RetryCount          int
	FirstErrorTimestamp time.Time
	LastError           string
}

// DLQMaxRetries is the retry ladder ceiling.
const DLQMaxRetries = 5

// DLQRetryDelay is the sleep before a republish.
const DLQRetryDelay = 10 * time.Second

// ShouldMoveToDLQ reports whether this envelope has exhausted the retry
// ladder and the message must be routed to the dead-letter subject
// instead of republished.
func (r RetryEnvelope) ShouldMoveToDLQ() bool {
	return r.RetryCount >= DLQMaxRetries
}

// NextAttempt returns the envelope to attach to a republished message:
// retry count incremented, last error updated, and the first-error
// timestamp stamped at now on the first failure and preserved untouched
// on every later one.
func (r RetryEnvelope) NextAttempt(err error, now time.Time) RetryEnvelope {
	next := r
	next.RetryCount++
	if next.FirstErrorTimestamp.IsZero() {
		next.FirstErrorTimestamp = now
	}
	if err != nil {
		next.LastError = err.Error()
	}
	return next
}

// ToDeadLetter converts an exhausted envelope plus the original message
// bytes into the archival DeadLetterMessage.
func (r RetryEnvelope) ToDeadLetter(subject string, payload []byte, now time.Time) DeadLetterMessage {
	first := r.FirstErrorTimestamp
	if first.IsZero() {
		first = now
	}
	return DeadLetterMessage{
		OriginalPayload:     payload,
		ErrorMessage:        r.LastError,
		RetryCount:          r.RetryCount,
		FirstErrorTimestamp: first,
		LastErrorTimestamp:  now,
		Subject:             subject,
	}
}
