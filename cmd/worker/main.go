// Command worker starts the ranking engine's consumer service: the
// stream-driven ingress that drains ballot events from the durable
// message stream into the same aggregation path the HTTP handlers use,
// plus the dead-letter archival consumer.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/arkrank/internal/adapter/docstore/mongo"
	"github.com/fairyhunter13/arkrank/internal/adapter/kv/redis"
	"github.com/fairyhunter13/arkrank/internal/adapter/observability"
	natsstream "github.com/fairyhunter13/arkrank/internal/adapter/stream/nats"
	"github.com/fairyhunter13/arkrank/internal/aggregator"
	"github.com/fairyhunter13/arkrank/internal/catalog"
	"github.com/fairyhunter13/arkrank/internal/config"
	"github.com/fairyhunter13/arkrank/internal/idgen"
	"github.com/fairyhunter13/arkrank/internal/topiccache"
	"github.com/fairyhunter13/arkrank/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CharacterCatalogPath)
	if err != nil {
		slog.Error("catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := goredis.NewClient(opts)
	kv := redis.New(rdb)

	store, err := mongo.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
	if err != nil {
		slog.Error("mongo connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	stream, err := natsstream.Connect(ctx, cfg.NATSURL, natsstream.StreamConfig{
		Name:               cfg.NATSStreamName,
		Subjects:           []string{"*.ballot_skip", "*.new_compare_request", "*.save_score", "*.dlq"},
		MaxMessages:        cfg.NATSMaxMessages,
		MaxMessagesPerSubj: cfg.NATSMaxMessagesPerSubj,
	})
	if err != nil {
		slog.Error("nats connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = stream.Close() }()

	sf, err := idgen.New(cfg.SnowflakeWorkerID, cfg.SnowflakeDatacenterID, cfg.SnowflakeEpochMillis)
	if err != nil {
		slog.Error("snowflake init failed", slog.Any("error", err))
		os.Exit(1)
	}

	aggCfg := aggregator.DefaultConfig()
	aggCfg.BaseMultiplier = cfg.VoteBaseMultiplier
	aggCfg.LowMultiplier = cfg.VoteLowMultiplier
	aggCfg.MaxIPLimit = cfg.VoteMaxIPLimit
	aggCfg.IPCounterExpireSecs = cfg.VoteIPCounterExpireSecs
	agg := aggregator.New(ctx, aggCfg, kv, store, aggregator.WithMetrics(observability.AggregatorMetrics{}))
	defer agg.Shutdown()

	cache := topiccache.New(store, cat)
	if err := cache.Warm(ctx); err != nil {
		slog.Error("topic cache warm failed", slog.Any("error", err))
		os.Exit(1)
	}
	go cache.Run(ctx)

	challengeSvc := usecase.NewChallengeService(cache, kv, agg, stream, sf, cfg.VoteChallengeTTLSeconds)

	registry := natsstream.NewRegistry(kv, challengeSvc, store)

	enabled := map[string]bool{
		"ballot_skip":         cfg.ConsumerBallotSkipEnabled,
		"new_compare_request": cfg.ConsumerNewCompareRequestEnabled,
		"save_score":          cfg.ConsumerSaveScoreEnabled,
		"dlq":                 cfg.ConsumerDLQEnabled,
	}

	var wg sync.WaitGroup
	for _, name := range registry.Names() {
		if !enabled[name] {
			slog.Info("consumer disabled, skipping", slog.String("consumer", name))
			continue
		}
		entry, _ := registry.Entry(name)

		consumerCfg := natsstream.DefaultConsumerConfig(entry.Name, entry.Subject)
		consumerCfg.BatchSize = cfg.ConsumerBatchSize
		consumerCfg.FetchRetryDelay = time.Duration(cfg.ConsumerRetryDelaySecs) * time.Second
		consumerCfg.InactiveThreshold = time.Duration(cfg.NATSConsumerInactive) * time.Second

		consumer, err := natsstream.NewConsumer(ctx, stream, consumerCfg, entry.Build(), logger.With("consumer", entry.Name))
		if err != nil {
			slog.Error("consumer init failed", slog.String("consumer", entry.Name), slog.Any("error", err))
			os.Exit(1)
		}

		wg.Add(1)
		go func(c *natsstream.Consumer, name string) {
			defer wg.Done()
			slog.Info("consumer started", slog.String("consumer", name))
			c.Run(ctx)
			slog.Info("consumer stopped", slog.String("consumer", name))
		}(consumer, entry.Name)
	}

	slog.Info("worker started successfully, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("shutdown signal received, draining consumers")
	wg.Wait()
	slog.Info("worker stopped")
}
