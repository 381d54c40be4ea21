// Package mongo implements the Document Store port (domain.TopicStore,
// domain.BallotArchive, domain.DeadLetterArchive) against MongoDB, one
// collection per concern: topics, ballots_{topic_id} for per-topic
// archives, ballots as the generic fallback, and dead_letter_queue.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// Store wraps a *mongo.Database and implements every Document Store port.
type Store struct {
	db *mongo.Database
}

// Connect dials MongoDB and returns a Store bound to the named database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("op=mongo.connect: %w: %v", domain.ErrDocStore, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("op=mongo.ping: %w: %v", domain.ErrDocStore, err)
	}
	return &Store{db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) topicsColl() *mongo.Collection { return s.db.Collection("topics") }

func (s *Store) ballotsColl(topicID string) *mongo.Collection {
	return s.db.Collection("ballots_" + topicID)
}

func (s *Store) fallbackBallotsColl() *mongo.Collection { return s.db.Collection("ballots") }

func (s *Store) dlqColl() *mongo.Collection { return s.db.Collection("dead_letter_queue") }

func startSpan(ctx context.Context, op, coll string) (context.Context, func()) {
	tracer := otel.Tracer("docstore.mongo")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.operation", op),
		attribute.String("db.mongodb.collection", coll),
	)
	return ctx, func() { span.End() }
}
