// Package nats implements the Message Stream port (domain.Publisher) and
// the durable pull-consumer framework against NATS JetStream: one
// fetch-decode-process-ack loop per named consumer, with a header-based
// retry ladder feeding the dead-letter subject.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// StreamConfig configures the durable JetStream stream backing every
// consumer.
type StreamConfig struct {
	Name               string
	Subjects           []string
	MaxMessages        int64
	MaxMessagesPerSubj int64
}

// Stream wraps a JetStream context and implements domain.Publisher.
type Stream struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	streamName string
}

// Connect dials NATS and ensures the durable stream exists.
func Connect(ctx context.Context, url string, cfg StreamConfig) (*Stream, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("op=stream.connect: %w: %v", domain.ErrStream, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("op=stream.connect: %w: %v", domain.ErrStream, err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              cfg.Name,
		Subjects:          cfg.Subjects,
		MaxMsgs:           cfg.MaxMessages,
		MaxMsgsPerSubject: cfg.MaxMessagesPerSubj,
		Storage:           jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("op=stream.ensureStream: %w: %v", domain.ErrStream, err)
	}
	return &Stream{nc: nc, js: js, streamName: cfg.Name}, nil
}

// Close drains the underlying connection.
func (s *Stream) Close() error {
	return s.nc.Drain()
}

// Publish implements domain.Publisher, attaching the given headers (used
// to carry the X-Retry-Count/X-First-error-Timestamp retry ladder).
func (s *Stream) Publish(ctx context.Context, subject string, payload []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if _, err := s.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("op=stream.publish: %w: %v", domain.ErrStream, err)
	}
	return nil
}

// JetStream exposes the underlying jetstream.JetStream handle for the
// consumer framework in consumer.go.
func (s *Stream) JetStream() jetstream.JetStream { return s.js }

// ConsumerConfig configures one durable pull consumer.
type ConsumerConfig struct {
	Name             string
	Subject          string
	BatchSize        int           // default 100 (CONSUMER_BATCH_SIZE)
	FetchRetryDelay  time.Duration // default 5s (CONSUMER_RETRY_DELAY)
	InactiveThreshold time.Duration // default 60s
}

// DefaultConsumerConfig fills in the standard defaults for the given
// name/subject.
func DefaultConsumerConfig(name, subject string) ConsumerConfig {
	return ConsumerConfig{
		Name:              name,
		Subject:           subject,
		BatchSize:         100,
		FetchRetryDelay:   5 * time.Second,
		InactiveThreshold: 60 * time.Second,
	}
}
