// Command server starts the ranking engine's Edge Service: the HTTP API
// that mints ballot challenges, serves topic/result queries, and
// publishes stream events consumed by the worker process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/arkrank/internal/adapter/httpserver"
	"github.com/fairyhunter13/arkrank/internal/adapter/docstore/mongo"
	"github.com/fairyhunter13/arkrank/internal/adapter/kv/redis"
	"github.com/fairyhunter13/arkrank/internal/adapter/observability"
	natsstream "github.com/fairyhunter13/arkrank/internal/adapter/stream/nats"
	"github.com/fairyhunter13/arkrank/internal/aggregator"
	"github.com/fairyhunter13/arkrank/internal/app"
	"github.com/fairyhunter13/arkrank/internal/catalog"
	"github.com/fairyhunter13/arkrank/internal/config"
	"github.com/fairyhunter13/arkrank/internal/idgen"
	"github.com/fairyhunter13/arkrank/internal/topiccache"
	"github.com/fairyhunter13/arkrank/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

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

	// Seed vote.preset_vote_topic entries before warming the cache so
	// preset topics are servable on first request.
	presets, err := cfg.LoadPresetTopics()
	if err != nil {
		slog.Error("preset topics load failed", slog.Any("error", err))
		os.Exit(1)
	}
	for _, t := range presets {
		if err := store.UpdateTopic(ctx, t); err != nil {
			slog.Error("preset topic seed failed", slog.String("topic", t.ID), slog.Any("error", err))
			os.Exit(1)
		}
	}

	cache := topiccache.New(store, cat)
	if err := cache.Warm(ctx); err != nil {
		slog.Error("topic cache warm failed", slog.Any("error", err))
		os.Exit(1)
	}
	go cache.Run(ctx)

	admissionBreaker := observability.NewCircuitBreaker("aggregator_admission", 1, time.Duration(cfg.AggregatorCircuitOpenSecs)*time.Second)
	challengeSvc := usecase.NewChallengeService(cache, kv, agg, stream, sf, cfg.VoteChallengeTTLSeconds,
		usecase.WithAdmissionControl(admissionBreaker, cfg.AggregatorQueueCeiling))
	topicSvc := usecase.NewTopicService(cache, store, cat)
	resultSvc := usecase.NewResultService(cache, kv, time.Duration(cfg.VoteResultCacheTTLSeconds)*time.Second)

	srv := httpserver.NewServer(cfg, challengeSvc, topicSvc, resultSvc)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.HTTPRequestTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPRequestTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.ServerPort))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeout)*time.Second)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
