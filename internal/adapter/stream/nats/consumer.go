package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/fairyhunter13/arkrank/internal/adapter/observability"
	"github.com/fairyhunter13/arkrank/internal/domain"
)

const (
	headerRetryCount = "X-Retry-Count"
	headerFirstError = "X-First-error-Timestamp"
	headerLastError  = "X-Last-error"
)

// Handler processes one decoded message. A non-nil error that
// domain.IsRetryable reports true for routes through the DLQ pipeline;
// a non-retryable error is logged and acked without a retry.
type Handler func(ctx context.Context, payload []byte) error

// Consumer drains one durable pull consumer on its own goroutine, so one
// consumer's stall cannot starve another.
type Consumer struct {
	stream  *Stream
	cfg     ConsumerConfig
	handler Handler
	log     *slog.Logger
}

// NewConsumer creates (or attaches to) a durable pull consumer and
// returns a Consumer ready to Run.
func NewConsumer(ctx context.Context, stream *Stream, cfg ConsumerConfig, handler Handler, log *slog.Logger) (*Consumer, error) {
	_, err := stream.JetStream().CreateOrUpdateConsumer(ctx, stream.cfgStreamName(), jetstream.ConsumerConfig{
		Durable:       cfg.Name,
		FilterSubject: cfg.Subject,
		InactiveThreshold: cfg.InactiveThreshold,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("op=consumer.create: %w: %v", domain.ErrStream, err)
	}
	return &Consumer{stream: stream, cfg: cfg, handler: handler, log: log}, nil
}

func (s *Stream) cfgStreamName() string { return s.streamName }

// Run loops fetch -> decode -> process -> ack until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) {
	cons, err := c.stream.JetStream().Consumer(ctx, c.stream.cfgStreamName(), c.cfg.Name)
	if err != nil {
		c.log.Error("consumer attach failed", "consumer", c.cfg.Name, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := cons.Fetch(c.cfg.BatchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			c.log.Warn("fetch failed", "consumer", c.cfg.Name, "error", err)
			time.Sleep(c.cfg.FetchRetryDelay)
			continue
		}

		for msg := range batch.Messages() {
			c.processOne(ctx, msg)
		}
		if err := batch.Error(); err != nil {
			c.log.Warn("fetch batch error", "consumer", c.cfg.Name, "error", err)
			time.Sleep(c.cfg.FetchRetryDelay)
		}
	}
}

func (c *Consumer) processOne(ctx context.Context, msg jetstream.Msg) {
	payload := msg.Data()

	err := c.handler(ctx, payload)
	if err == nil {
		_ = msg.DoubleAck(ctx)
		observability.RecordConsumerMessage(msg.Subject(), "ack")
		return
	}

	// Undecodable payloads will never decode on redelivery; ack instead
	// of re-queueing.
	if errors.Is(err, ErrDecodeFailed) {
		c.log.Warn("dropping undecodable message", "consumer", c.cfg.Name, "error", err)
		_ = msg.DoubleAck(ctx)
		observability.RecordConsumerMessage(msg.Subject(), "ack")
		return
	}

	if !domain.IsRetryable(err) {
		c.log.Warn("dropping non-retryable message", "consumer", c.cfg.Name, "error", err)
		_ = msg.DoubleAck(ctx)
		observability.RecordConsumerMessage(msg.Subject(), "ack")
		return
	}

	c.dlqPipeline(ctx, msg, err)
}

// dlqDecision is the pure outcome of applying the retry ladder to one
// incoming envelope: either promote to the dead-letter subject, or
// republish with incremented retry headers.
type dlqDecision struct {
	promote bool
	dead    domain.DeadLetterMessage
	headers map[string]string
}

// decideDLQ gates on the incoming envelope's retry count before
// incrementing it: X-Retry-Count climbs 1..DLQMaxRetries across
// republishes, and the next delivery after the ceiling promotes on the
// pre-increment count, not the post-increment one.
func decideDLQ(envelope domain.RetryEnvelope, procErr error, subject string, payload []byte, now time.Time) dlqDecision {
	if envelope.ShouldMoveToDLQ() {
		if procErr != nil {
			envelope.LastError = procErr.Error()
		}
		return dlqDecision{promote: true, dead: envelope.ToDeadLetter(subject, payload, now)}
	}
	next := envelope.NextAttempt(procErr, now)
	return dlqDecision{headers: map[string]string{
		headerRetryCount: strconv.Itoa(next.RetryCount),
		headerFirstError: next.FirstErrorTimestamp.Format(time.RFC3339Nano),
		headerLastError:  next.LastError,
	}}
}

// dlqPipeline applies decideDLQ and then either publishes to the
// dead-letter subject or republishes to the original subject with
// updated retry headers.
func (c *Consumer) dlqPipeline(ctx context.Context, msg jetstream.Msg, procErr error) {
	envelope := readRetryEnvelope(msg)
	subject := msg.Subject()
	payload := msg.Data()

	d := decideDLQ(envelope, procErr, subject, payload, time.Now())

	if d.promote {
		encoded, err := json.Marshal(d.dead)
		if err != nil {
			c.log.Error("encode dead letter failed", "error", err)
			_ = msg.DoubleAck(ctx)
			return
		}
		dlqSubject := dlqSubjectFor(subject)
		if err := c.stream.Publish(ctx, dlqSubject, encoded, nil); err != nil {
			c.log.Error("publish to dlq failed", "error", err)
			// leave unacked; redelivery will retry the publish
			return
		}
		_ = msg.DoubleAck(ctx)
		observability.RecordConsumerMessage(subject, "dlq")
		observability.RecordDLQPromotion(subject)
		return
	}

	time.Sleep(domain.DLQRetryDelay)
	if err := c.stream.Publish(ctx, subject, payload, d.headers); err != nil {
		c.log.Error("republish failed", "error", err)
		return
	}
	_ = msg.DoubleAck(ctx)
	observability.RecordConsumerMessage(subject, "retry")
}

func dlqSubjectFor(subject string) string {
	return normalizeSubjectPrefix(subject) + ".dlq"
}

// normalizeSubjectPrefix strips everything after the first '.' so
// "{topic}.save_score" maps to "{topic}.dlq".
func normalizeSubjectPrefix(subject string) string {
	for i, r := range subject {
		if r == '.' {
			return subject[:i]
		}
	}
	return subject
}

func readRetryEnvelope(msg jetstream.Msg) domain.RetryEnvelope {
	headers := msg.Headers()
	var env domain.RetryEnvelope
	if v := headers.Get(headerRetryCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			env.RetryCount = n
		}
	}
	if v := headers.Get(headerFirstError); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			env.FirstErrorTimestamp = t
		}
	}
	env.LastError = headers.Get(headerLastError)
	return env
}

// ErrDecodeFailed marks a payload that could not be decoded; the consumer
// loop acks without retrying for these.
var ErrDecodeFailed = errors.New("decode failed")
