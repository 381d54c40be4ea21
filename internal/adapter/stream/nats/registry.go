package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/arkrank/internal/domain"
	"github.com/fairyhunter13/arkrank/internal/usecase"
)

// skipMessage is the payload published to "{topic}.ballot_skip" by
// ChallengeService.SkipPairwise.
type skipMessage struct {
	TopicID  string `json:"topic_id"`
	BallotID string `json:"ballot_id"`
}

// compareRequestMessage is the payload published to
// "{topic}.new_compare_request", the stream-driven equivalent of
// POST /ballot/new.
type compareRequestMessage struct {
	TopicID string `json:"topic_id"`
}

// saveScoreMessage is the payload published to "{topic}.save_score", the
// stream-driven equivalent of POST /ballot/save.
type saveScoreMessage struct {
	TopicID   string `json:"topic_id"`
	BallotID  string `json:"ballot_id"`
	Winner    int32  `json:"winner"`
	Loser     int32  `json:"loser"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// ChallengeBackend is the narrow usecase surface the stream handlers
// drive; satisfied by *usecase.ChallengeService.
type ChallengeBackend interface {
	NewPairwise(ctx domain.Context, topicID string) (domain.BallotChallenge, error)
	SavePairwise(ctx domain.Context, req usecase.SavePairwiseRequest) error
}

// BuildBallotSkipHandler deletes every outstanding challenge key for the
// decoded (topic_id, ballot_id) pair.
func BuildBallotSkipHandler(kv domain.KVStore) Handler {
	return func(ctx context.Context, payload []byte) error {
		var m skipMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		key := m.TopicID + ":ballot:" + m.BallotID
		return kv.DelMultiple(ctx, []string{key})
	}
}

// BuildNewCompareRequestHandler mints a ballot challenge via the same
// path as POST /ballot/new, for stream-driven ingress.
func BuildNewCompareRequestHandler(backend ChallengeBackend) Handler {
	return func(ctx context.Context, payload []byte) error {
		var m compareRequestMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		_, err := backend.NewPairwise(ctx, m.TopicID)
		return err
	}
}

// BuildSaveScoreHandler submits a decoded ballot save through the same
// path as POST /ballot/save, for stream-driven ingress.
func BuildSaveScoreHandler(backend ChallengeBackend) Handler {
	return func(ctx context.Context, payload []byte) error {
		var m saveScoreMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return backend.SavePairwise(ctx, usecase.SavePairwiseRequest{
			TopicID:   m.TopicID,
			BallotID:  m.BallotID,
			Winner:    m.Winner,
			Loser:     m.Loser,
			IP:        m.IP,
			UserAgent: m.UserAgent,
		})
	}
}

// BuildDLQHandler decodes a DeadLetterMessage and archives it in the
// dead-letter collection.
func BuildDLQHandler(archive domain.DeadLetterArchive) Handler {
	return func(ctx context.Context, payload []byte) error {
		var msg domain.DeadLetterMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		return archive.Insert(ctx, msg)
	}
}

// RegistryEntry is one named consumer's subject plus its Handler factory.
type RegistryEntry struct {
	Name    string
	Subject string
	Build   func() Handler
}

// Registry holds every consumer entry the Consumer Service can spin up.
type Registry struct {
	entries map[string]RegistryEntry
}

// NewRegistry builds the standard four-entry registry wired against the
// given backends: kv drives ballot_skip's key deletion, backend drives
// new_compare_request/save_score's ingress, and archive drives dlq's
// dead-letter archival.
func NewRegistry(kv domain.KVStore, backend ChallengeBackend, archive domain.DeadLetterArchive) *Registry {
	r := &Registry{entries: make(map[string]RegistryEntry, 4)}
	r.register("ballot_skip", "*.ballot_skip", func() Handler { return BuildBallotSkipHandler(kv) })
	r.register("new_compare_request", "*.new_compare_request", func() Handler { return BuildNewCompareRequestHandler(backend) })
	r.register("save_score", "*.save_score", func() Handler { return BuildSaveScoreHandler(backend) })
	r.register("dlq", "*.dlq", func() Handler { return BuildDLQHandler(archive) })
	return r
}

func (r *Registry) register(name, subject string, build func() Handler) {
	r.entries[name] = RegistryEntry{Name: name, Subject: subject, Build: build}
}

// Entry looks up a named consumer entry.
func (r *Registry) Entry(name string) (RegistryEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns every registered consumer name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}
