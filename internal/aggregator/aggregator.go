// Package aggregator implements the ballot batch aggregator: the
// asynchronous pipeline that converts a stream of individual ballots
// into batched, atomic KV updates plus archival inserts.
//
// A single worker goroutine drains the input channel and owns the batch
// buffers, so no locks guard them; each flush runs the three-script
// sequence (IP counter -> score update -> 1v1 record) followed by a
// grouped archive insert.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// Config holds the vote-scoring parameters the aggregator needs per
// flush.
type Config struct {
	BaseMultiplier       int32
	LowMultiplier        int32
	MaxIPLimit           int64
	IPCounterExpireSecs  int
	BufferCapacity       int // default 1000
	FlushTickInterval    time.Duration // default 500ms
	MaxWait              time.Duration // default 5s
	RetryAttempts        int           // default 3
	RetryInterval        time.Duration // default 100ms
	FallbackLogDir       string
}

// DefaultConfig returns the standard production defaults.
func DefaultConfig() Config {
	return Config{
		BaseMultiplier:      2,
		LowMultiplier:       1,
		MaxIPLimit:          10,
		IPCounterExpireSecs: 60,
		BufferCapacity:      1000,
		FlushTickInterval:   500 * time.Millisecond,
		MaxWait:             5 * time.Second,
		RetryAttempts:       3,
		RetryInterval:       100 * time.Millisecond,
		FallbackLogDir:      ".",
	}
}

// flushThreshold is min(capacity, 150): large capacities still flush at
// 150 entries to bound per-flush latency.
func (c Config) flushThreshold() int {
	if c.BufferCapacity < 150 {
		return c.BufferCapacity
	}
	return 150
}

// Metrics is the narrow metrics surface the aggregator reports through,
// kept as an interface so the observability package's Prometheus
// collectors can be injected without this package importing it directly.
type Metrics interface {
	IncTotalProcessed(variant string, n int)
	IncSuccessfulBatches(variant string)
	IncFailedBatches(variant string)
	ObserveBatchLatency(variant string, d time.Duration)
	SetPending(variant string, n int)
}

type noopMetrics struct{}

func (noopMetrics) IncTotalProcessed(string, int)         {}
func (noopMetrics) IncSuccessfulBatches(string)            {}
func (noopMetrics) IncFailedBatches(string)                {}
func (noopMetrics) ObserveBatchLatency(string, time.Duration) {}
func (noopMetrics) SetPending(string, int)                 {}

// batchGroup holds the four per-variant batch buffers plus the capacity
// threshold.
type batchGroup struct {
	pairwise  []domain.PairwiseBallot
	setwise   []domain.SetwiseBallot
	groupwise []domain.GroupwiseBallot
	plurality []domain.PluralityBallot
	capacity  int
}

func newBatchGroup(capacity int) *batchGroup {
	return &batchGroup{capacity: capacity}
}

func (g *batchGroup) add(b domain.Ballot) {
	switch b.Variant {
	case domain.VariantPairwise:
		g.pairwise = append(g.pairwise, *b.Pairwise)
	case domain.VariantSetwise:
		g.setwise = append(g.setwise, *b.Setwise)
	case domain.VariantGroupwise:
		g.groupwise = append(g.groupwise, *b.Groupwise)
	case domain.VariantPlurality:
		g.plurality = append(g.plurality, *b.Plurality)
	}
}

func (g *batchGroup) isEmpty() bool {
	return len(g.pairwise) == 0 && len(g.setwise) == 0 && len(g.groupwise) == 0 && len(g.plurality) == 0
}

func (g *batchGroup) needProcess() bool {
	limit := g.capacity
	if limit > 150 {
		limit = 150
	}
	return len(g.pairwise) >= limit || len(g.setwise) >= limit || len(g.groupwise) >= limit || len(g.plurality) >= limit
}

func (g *batchGroup) takeAll() ([]domain.PairwiseBallot, []domain.SetwiseBallot, []domain.GroupwiseBallot, []domain.PluralityBallot) {
	p, s, gr, pl := g.pairwise, g.setwise, g.groupwise, g.plurality
	g.pairwise, g.setwise, g.groupwise, g.plurality = nil, nil, nil, nil
	return p, s, gr, pl
}

// Aggregator is the single-writer batch aggregator: one worker goroutine
// owns the buffers and linearizes all KV writes for the process.
type Aggregator struct {
	cfg     Config
	kv      domain.KVStore
	archive domain.BallotArchive
	metrics Metrics

	input  chan domain.Ballot
	done   chan struct{}
	closed sync.Once
}

// Option configures optional Aggregator dependencies.
type Option func(*Aggregator)

// WithMetrics injects a Metrics implementation; defaults to a no-op.
func WithMetrics(m Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New starts the aggregator's worker goroutine and returns a handle.
// Submit is safe to call before the worker has fully warmed up: the
// input channel buffers immediately.
func New(ctx context.Context, cfg Config, kv domain.KVStore, archive domain.BallotArchive, opts ...Option) *Aggregator {
	a := &Aggregator{
		cfg:     cfg,
		kv:      kv,
		archive: archive,
		metrics: noopMetrics{},
		input:   make(chan domain.Ballot, 4096),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run(ctx)
	return a
}

// Submit enqueues onto the in-process channel. It only fails if the
// aggregator has shut down.
func (a *Aggregator) Submit(b domain.Ballot) error {
	select {
	case <-a.done:
		return fmt.Errorf("aggregator: %w: shut down", domain.ErrInternal)
	default:
	}
	select {
	case a.input <- b:
		return nil
	case <-a.done:
		return fmt.Errorf("aggregator: %w: shut down", domain.ErrInternal)
	}
}

// QueueDepth reports the number of ballots currently buffered on the
// input channel, read by admission control.
func (a *Aggregator) QueueDepth() int {
	return len(a.input)
}

// run is the worker's cooperative event loop: drain the channel, flush on
// threshold/timer, drain-and-exit on shutdown.
func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)

	group := newBatchGroup(a.cfg.BufferCapacity)
	lastFlush := time.Now()
	ticker := time.NewTicker(a.cfg.FlushTickInterval)
	defer ticker.Stop()

	flushIfDue := func(force bool) {
		if group.isEmpty() {
			return
		}
		if force || group.needProcess() || time.Since(lastFlush) >= a.cfg.MaxWait {
			a.flush(ctx, group)
			lastFlush = time.Now()
		}
	}

	for {
		select {
		case b, ok := <-a.input:
			if !ok {
				flushIfDue(true)
				a.reportPending(group)
				return
			}
			group.add(b)
			if group.needProcess() {
				a.flush(ctx, group)
				lastFlush = time.Now()
			}
			a.reportPending(group)

		case <-ticker.C:
			flushIfDue(false)
			a.reportPending(group)

		case <-ctx.Done():
			flushIfDue(true)
			a.reportPending(group)
			return
		}
	}
}

// reportPending publishes the per-variant buffer depth gauges.
func (a *Aggregator) reportPending(g *batchGroup) {
	a.metrics.SetPending("pairwise", len(g.pairwise))
	a.metrics.SetPending("setwise", len(g.setwise))
	a.metrics.SetPending("groupwise", len(g.groupwise))
	a.metrics.SetPending("plurality", len(g.plurality))
}

// flush drains every variant buffer. Only Pairwise ballots score
// aggregates; the rest persist raw.
func (a *Aggregator) flush(ctx context.Context, group *batchGroup) {
	pairwise, setwise, groupwise, plurality := group.takeAll()

	if len(pairwise) > 0 {
		a.flushPairwise(ctx, pairwise)
	}
	if len(setwise) > 0 {
		a.flushRaw(ctx, "setwise", setwiseToStored(setwise))
	}
	if len(groupwise) > 0 {
		a.flushRaw(ctx, "groupwise", groupwiseToStored(groupwise))
	}
	if len(plurality) > 0 {
		a.flushRaw(ctx, "plurality", pluralityToStored(plurality))
	}
}

func setwiseToStored(bs []domain.SetwiseBallot) []domain.StoredBallot {
	out := make([]domain.StoredBallot, len(bs))
	for i, b := range bs {
		b := b
		out[i] = domain.StoredBallot{Ballot: domain.Ballot{Variant: domain.VariantSetwise, Setwise: &b}}
	}
	return out
}

func groupwiseToStored(bs []domain.GroupwiseBallot) []domain.StoredBallot {
	out := make([]domain.StoredBallot, len(bs))
	for i, b := range bs {
		b := b
		out[i] = domain.StoredBallot{Ballot: domain.Ballot{Variant: domain.VariantGroupwise, Groupwise: &b}}
	}
	return out
}

func pluralityToStored(bs []domain.PluralityBallot) []domain.StoredBallot {
	out := make([]domain.StoredBallot, len(bs))
	for i, b := range bs {
		b := b
		out[i] = domain.StoredBallot{Ballot: domain.Ballot{Variant: domain.VariantPlurality, Plurality: &b}}
	}
	return out
}

// flushRaw archives non-scoring variants into their topic's collection,
// retried the same way as the scoring path.
func (a *Aggregator) flushRaw(ctx context.Context, variant string, stored []domain.StoredBallot) {
	start := time.Now()
	byTopic := map[string][]domain.StoredBallot{}
	for _, sb := range stored {
		tid := sb.Ballot.Info().TopicID
		byTopic[tid] = append(byTopic[tid], sb)
	}

	err := a.withRetry(ctx, func() error {
		for topicID, group := range byTopic {
			if err := a.archive.InsertMany(ctx, topicID, group); err != nil {
				return err
			}
		}
		return nil
	})

	a.metrics.ObserveBatchLatency(variant, time.Since(start))
	if err != nil {
		a.metrics.IncFailedBatches(variant)
		a.saveToFallbackLog(variant, stored)
		return
	}
	a.metrics.IncSuccessfulBatches(variant)
	a.metrics.IncTotalProcessed(variant, len(stored))
}

// flushPairwise runs the five-step pairwise flush: per-IP multipliers,
// score updates, encounter counters, then the grouped archive insert.
func (a *Aggregator) flushPairwise(ctx context.Context, ballots []domain.PairwiseBallot) {
	start := time.Now()

	err := a.withRetry(ctx, func() error {
		return a.doFlushPairwise(ctx, ballots)
	})

	a.metrics.ObserveBatchLatency("pairwise", time.Since(start))
	if err != nil {
		a.metrics.IncFailedBatches("pairwise")
		a.saveToFallbackLog("pairwise", pairwiseToStoredFallback(ballots))
		return
	}
	a.metrics.IncSuccessfulBatches("pairwise")
	a.metrics.IncTotalProcessed("pairwise", len(ballots))
}

func pairwiseToStoredFallback(bs []domain.PairwiseBallot) []domain.StoredBallot {
	out := make([]domain.StoredBallot, len(bs))
	for i, b := range bs {
		b := b
		out[i] = domain.StoredBallot{Ballot: domain.Ballot{Variant: domain.VariantPairwise, Pairwise: &b}}
	}
	return out
}

func (a *Aggregator) doFlushPairwise(ctx context.Context, ballots []domain.PairwiseBallot) error {
	// Step 1: compute per-IP multipliers. The script is invoked per topic
	// since ip_counter keys are topic-namespaced; IPs are deduped per
	// topic so each counter increments once per batch.
	byTopicIPs := map[string][]string{}
	for _, b := range ballots {
		byTopicIPs[b.Info.TopicID] = appendUnique(byTopicIPs[b.Info.TopicID], b.Info.IP)
	}
	multipliers := map[string]map[string]int32{} // topicID -> ip -> multiplier
	for topicID, topicIPs := range byTopicIPs {
		m, err := a.kv.IPCounterBatch(ctx, topicID, topicIPs, a.cfg.IPCounterExpireSecs, a.cfg.MaxIPLimit, a.cfg.BaseMultiplier, a.cfg.LowMultiplier)
		if err != nil {
			return fmt.Errorf("op=aggregator.ipCounterBatch: %w", err)
		}
		multipliers[topicID] = m
	}

	multiplierFor := func(topicID, ip string) int32 {
		if m, ok := multipliers[topicID][ip]; ok {
			return m
		}
		return a.cfg.LowMultiplier
	}

	// Step 2/3: build the score-update list.
	updates := make([]domain.ScoreUpdate, 0, len(ballots))
	for _, b := range ballots {
		updates = append(updates, domain.ScoreUpdate{
			TopicID:    b.Info.TopicID,
			Win:        b.Win,
			Lose:       b.Lose,
			Multiplier: multiplierFor(b.Info.TopicID, b.Info.IP),
		})
	}
	if err := a.kv.ScoreUpdateBatch(ctx, updates); err != nil {
		return fmt.Errorf("op=aggregator.scoreUpdateBatch: %w", err)
	}

	// Step 4: encounter counter.
	pairs := make([]domain.EncounterPair, 0, len(ballots))
	for _, b := range ballots {
		min, max := b.Win, b.Lose
		if min > max {
			min, max = max, min
		}
		pairs = append(pairs, domain.EncounterPair{TopicID: b.Info.TopicID, Min: min, Max: max})
	}
	if err := a.kv.Record1v1Batch(ctx, pairs); err != nil {
		return fmt.Errorf("op=aggregator.record1v1Batch: %w", err)
	}

	// Step 5: archive, grouped by topic.
	byTopic := map[string][]domain.StoredBallot{}
	for _, b := range ballots {
		mult := multiplierFor(b.Info.TopicID, b.Info.IP)
		bb := b
		byTopic[b.Info.TopicID] = append(byTopic[b.Info.TopicID], domain.StoredBallot{
			Ballot:     domain.Ballot{Variant: domain.VariantPairwise, Pairwise: &bb},
			Multiplier: mult,
		})
	}
	for topicID, group := range byTopic {
		if err := a.archive.InsertMany(ctx, topicID, group); err != nil {
			return fmt.Errorf("op=aggregator.archive: %w", err)
		}
	}
	return nil
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// withRetry wraps fn in up to RetryAttempts tries spaced RetryInterval
// apart.
func (a *Aggregator) withRetry(ctx context.Context, fn func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(a.cfg.RetryInterval), uint64(a.cfg.RetryAttempts-1))
	return backoff.Retry(func() error {
		return fn()
	}, backoff.WithContext(b, ctx))
}

// saveToFallbackLog appends the failed batch to
// ./failed_{variant}_ballots_{UTCstamp}.log, one JSON line per ballot.
// The file is opened fresh on every failure so a crash mid-write loses
// at most one batch.
func (a *Aggregator) saveToFallbackLog(variant string, ballots []domain.StoredBallot) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	path := fmt.Sprintf("%s/failed_%s_ballots_%s.log", a.cfg.FallbackLogDir, variant, stamp)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	for _, sb := range ballots {
		line, err := json.Marshal(sb)
		if err != nil {
			continue
		}
		f.Write(line)
		f.Write([]byte("\n"))
	}
}

// Shutdown closes the input channel, letting the worker drain once and
// exit.
func (a *Aggregator) Shutdown() {
	a.closed.Do(func() { close(a.input) })
	<-a.done
}
