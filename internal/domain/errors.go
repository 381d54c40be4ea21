package domain

import "errors"

// Error taxonomy (sentinels).
//
// Infrastructure errors are recoverable locally via retries and surface
// as 500 + InternalError on final failure. Input errors are 4xx and
// never enter the DLQ. Resource errors map to 404 (not found) or 500
// (not active, type mismatch). Policy errors
// guard endpoints.
var (
	// Infrastructure.
	ErrKVStore      = errors.New("kv store error")
	ErrDocStore     = errors.New("document store error")
	ErrStream       = errors.New("message stream error")
	ErrIO           = errors.New("i/o error")
	ErrInternal     = errors.New("internal error")

	// Admission control: once the aggregator's queue exceeds its ceiling,
	// /ballot/save returns 503 rather than growing the queue unbounded.
	ErrAggregatorOverloaded = errors.New("aggregator overloaded")

	// Input.
	ErrInvalidBallotCode      = errors.New("invalid ballot code")
	ErrInvalidBallotFormat    = errors.New("invalid ballot format")
	ErrInvalidParticipants    = errors.New("invalid match participants")
	ErrInsufficientOperators  = errors.New("insufficient operators available for comparison")
	ErrBallotWinnerCannotLose = errors.New("ballot winner cannot be loser")

	// Resource.
	ErrTargetTopicNotFound      = errors.New("target topic not found")
	ErrTargetTopicNotActive     = errors.New("target topic not active")
	ErrRequestTopicTypeMismatch = errors.New("request topic type mismatch")
	ErrBallotNotFound           = errors.New("ballot not found")

	// Policy.
	ErrEndpointForbidden = errors.New("endpoint forbidden")
)

// IsRetryable reports whether a processing error encountered by a stream
// consumer should be routed through the DLQ retry ladder (true) or acked
// immediately as unrecoverable malformed input (false).
//
// The three input errors are malformed input: retrying them can never
// succeed, so they return false here.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidParticipants),
		errors.Is(err, ErrInvalidBallotCode),
		errors.Is(err, ErrInvalidBallotFormat):
		return false
	default:
		return true
	}
}

// StatusBucket maps a domain error to the HTTP-envelope status code used
// in the response body's `status` field. 0 means OK.
func StatusBucket(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrTargetTopicNotFound), errors.Is(err, ErrBallotNotFound):
		return 404
	case errors.Is(err, ErrInvalidBallotCode),
		errors.Is(err, ErrInvalidBallotFormat),
		errors.Is(err, ErrInvalidParticipants),
		errors.Is(err, ErrInsufficientOperators),
		errors.Is(err, ErrBallotWinnerCannotLose):
		return 400
	case errors.Is(err, ErrEndpointForbidden):
		return 403
	case errors.Is(err, ErrAggregatorOverloaded):
		return 503
	case errors.Is(err, ErrTargetTopicNotActive),
		errors.Is(err, ErrRequestTopicTypeMismatch),
		errors.Is(err, ErrInternal),
		errors.Is(err, ErrKVStore),
		errors.Is(err, ErrDocStore),
		errors.Is(err, ErrStream),
		errors.Is(err, ErrIO):
		// TargetTopicNotActive and RequestTopicTypeMismatch stay 500 for
		// backward compat; a 409 would be more RESTful but client code may
		// switch on the numeric status.
		return 500
	default:
		return 500
	}
}
