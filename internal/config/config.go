// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// Config holds all application configuration parsed from environment variables.
//
// Sections group related settings (server/vote/cors/database/nats/
// snowflake/tracing/task_manager); caarlos0/env has no native section
// nesting so each becomes a prefixed, flattened group of fields.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`

	ServerHost            string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	ServerPort            int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerShutdownTimeout int    `env:"SERVER_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`
	HTTPRequestTimeout    int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"60"`

	VoteBaseMultiplier        int32  `env:"VOTE_BASE_MULTIPLIER" envDefault:"2"`
	VoteLowMultiplier         int32  `env:"VOTE_LOW_MULTIPLIER" envDefault:"1"`
	VoteMaxIPLimit            int64  `env:"VOTE_MAX_IP_LIMIT" envDefault:"10"`
	VoteIPCounterExpireSecs   int    `env:"VOTE_IP_COUNTER_EXPIRE_SECONDS" envDefault:"60"`
	VotePresetTopicsFile      string `env:"VOTE_PRESET_TOPICS_FILE" envDefault:"./config/preset_topics.yaml"`
	VoteChallengeTTLSeconds   int    `env:"VOTE_CHALLENGE_TTL_SECONDS" envDefault:"86400"`
	VoteResultCacheTTLSeconds int    `env:"VOTE_RESULT_CACHE_TTL_SECONDS" envDefault:"2"`

	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	CORSAllowMethods string `env:"CORS_ALLOW_METHODS" envDefault:"GET,POST,OPTIONS"`
	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	MongoURL      string `env:"MONGO_URL" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"arkrank"`

	NATSURL                string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSStreamName         string `env:"NATS_STREAM_NAME" envDefault:"ARKRANK"`
	NATSMaxMessages         int64  `env:"NATS_MAX_MESSAGES" envDefault:"-1"`
	NATSMaxMessagesPerSubj int64  `env:"NATS_MAX_MESSAGES_PER_SUBJECT" envDefault:"-1"`
	NATSConsumerInactive   int    `env:"NATS_CONSUMER_INACTIVE_SECONDS" envDefault:"60"`

	SnowflakeWorkerID     int64 `env:"SNOWFLAKE_WORKER_ID" envDefault:"1"`
	SnowflakeDatacenterID int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`
	SnowflakeEpochMillis  int64 `env:"SNOWFLAKE_EPOCH_MILLIS" envDefault:"1704067200000"`

	TracingLevel           string `env:"TRACING_LEVEL" envDefault:"info"`
	TracingLogFileDir      string `env:"TRACING_LOG_FILE_DIRECTORY" envDefault:""`
	OTLPEndpoint           string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName        string `env:"OTEL_SERVICE_NAME" envDefault:"arkrank"`

	TaskManagerConcurrency int `env:"TASK_MANAGER_CONCURRENCY" envDefault:"4"`

	// CharacterCatalogPath points at the local JSON catalog (keys prefixed
	// char_<id>_...). Loading and any remote portrait-manifest fetch is an
	// external collaborator; only the resulting Catalog is in scope here.
	CharacterCatalogPath string `env:"CHARACTER_CATALOG_PATH" envDefault:"./config/character_table.json"`

	// AdminToken gates the /audit/* routes. Authentication is out of scope
	//; an unset token means those routes always return
	// forbidden, matching "audit endpoints return 403 in current build".
	AdminToken string `env:"ADMIN_TOKEN" envDefault:""`

	ConsumerBatchSize   int `env:"CONSUMER_BATCH_SIZE" envDefault:"100"`
	ConsumerRetryDelaySecs int `env:"CONSUMER_RETRY_DELAY_SECONDS" envDefault:"5"`

	// Per-consumer enable flags, so deployments can run a subset of the
	// stream consumers per process.
	ConsumerBallotSkipEnabled        bool `env:"CONSUMER_BALLOT_SKIP_ENABLED" envDefault:"true"`
	ConsumerNewCompareRequestEnabled bool `env:"CONSUMER_NEW_COMPARE_REQUEST_ENABLED" envDefault:"true"`
	ConsumerSaveScoreEnabled         bool `env:"CONSUMER_SAVE_SCORE_ENABLED" envDefault:"true"`
	ConsumerDLQEnabled               bool `env:"CONSUMER_DLQ_ENABLED" envDefault:"true"`

	// AggregatorQueueCeiling is the admission-control ceiling on the
	// aggregator's pending-ballot queue: once
	// reached, POST /ballot/save trips the circuit and returns 503 rather
	// than letting the channel grow unbounded.
	AggregatorQueueCeiling int `env:"AGGREGATOR_QUEUE_CEILING" envDefault:"3500"`
	// AggregatorCircuitOpenSecs is how long the admission-control circuit
	// stays open once tripped before probing again.
	AggregatorCircuitOpenSecs int `env:"AGGREGATOR_CIRCUIT_OPEN_SECONDS" envDefault:"5"`
}

// AdminEnabled reports whether an admin token has been configured.
func (c Config) AdminEnabled() bool { return c.AdminToken != "" }

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// presetTopic is the on-disk shape of one preset topic seed entry. The
// candidate pool uses preset names (all_operators, six_star, custom)
// rather than the full PoolExpr algebra; custom carries an explicit ID
// list.
type presetTopic struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	TopicType   string  `yaml:"topic_type"`
	Pool        string  `yaml:"pool"`
	PoolIDs     []int32 `yaml:"pool_ids"`
	OpenTime    string  `yaml:"open_time"`
	CloseTime   string  `yaml:"close_time"`
	IsActive    bool    `yaml:"is_active"`
}

type presetTopicsFile struct {
	Topics []presetTopic `yaml:"topics"`
}

func (p presetTopic) toTopic() (domain.Topic, error) {
	openTime, err := time.Parse(time.RFC3339, p.OpenTime)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("topic %s: bad open_time: %w", p.ID, err)
	}
	closeTime, err := time.Parse(time.RFC3339, p.CloseTime)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("topic %s: bad close_time: %w", p.ID, err)
	}
	var pool domain.PoolExpr
	switch p.Pool {
	case "six_star":
		pool = domain.PoolExprSixStar()
	case "custom":
		pool = domain.PoolExprCustom(p.PoolIDs)
	default:
		pool = domain.PoolExprAllOperators()
	}
	return domain.Topic{
		ID:            p.ID,
		Name:          p.Name,
		Title:         p.Title,
		Description:   p.Description,
		TopicType:     domain.VotingTopicType(p.TopicType),
		CandidatePool: pool,
		CreatedAt:     time.Now(),
		OpenTime:      openTime,
		CloseTime:     closeTime,
		IsActive:      p.IsActive,
		Status:        domain.CreateTopicStatus{Kind: domain.StatusApproved},
	}, nil
}

// LoadPresetTopics reads VotePresetTopicsFile and returns the seed topic
// list. A missing file is not an error: it yields an empty list, so a
// deployment with no preset topics needs no file at all.
func (c Config) LoadPresetTopics() ([]domain.Topic, error) {
	data, err := os.ReadFile(c.VotePresetTopicsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=config.LoadPresetTopics: %w", err)
	}
	var f presetTopicsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("op=config.LoadPresetTopics: %w", err)
	}
	out := make([]domain.Topic, 0, len(f.Topics))
	for _, p := range f.Topics {
		t, err := p.toTopic()
		if err != nil {
			return nil, fmt.Errorf("op=config.LoadPresetTopics: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}
