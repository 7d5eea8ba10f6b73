package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier"`

	// Remote scoring service
	Remote RemoteConfig `json:"remote"`

	// Heuristic scorer
	Scoring ScoringConfig `json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// RemoteConfig configures the external scoring service.
// An empty URL disables the remote stage.
type RemoteConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// Enabled reports whether a remote endpoint is configured.
func (c RemoteConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// ScoringConfig selects the rule set activated at boot.
type ScoringConfig struct {
	RuleSetVersion string `json:"ruleSetVersion"`
}

// WorkerConfig controls the async scoring worker.
type WorkerConfig struct {
	Enabled     bool `json:"enabled"`
	Concurrency int  `json:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultRemoteTimeout bounds a single remote scoring attempt.
const DefaultRemoteTimeout = 5 * time.Second

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Remote: RemoteConfig{
			Timeout: DefaultRemoteTimeout,
		},
		Scoring: ScoringConfig{
			RuleSetVersion: "v1",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 128,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			Concurrency: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   128,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "heron-workers",
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadFromEnv builds a configuration from HERON_* environment variables.
// HERON_TIER=pro selects ProConfig as the base; every other variable
// overrides a single field.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if strings.EqualFold(os.Getenv("HERON_TIER"), string(TierPro)) {
		cfg = ProConfig()
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	str("HERON_HOST", &c.Server.Host)
	integer("HERON_PORT", &c.Server.Port)

	str("HERON_REMOTE_URL", &c.Remote.URL)
	duration("HERON_REMOTE_TIMEOUT", &c.Remote.Timeout)

	str("HERON_RULESET", &c.Scoring.RuleSetVersion)

	str("HERON_DB_DRIVER", &c.Repository.Driver)
	str("HERON_SQLITE_PATH", &c.Repository.SQLitePath)
	str("HERON_PG_HOST", &c.Repository.PostgresHost)
	integer("HERON_PG_PORT", &c.Repository.PostgresPort)
	str("HERON_PG_USER", &c.Repository.PostgresUser)
	str("HERON_PG_PASSWORD", &c.Repository.PostgresPassword)
	str("HERON_PG_DB", &c.Repository.PostgresDB)
	str("HERON_PG_SSLMODE", &c.Repository.PostgresSSLMode)

	str("HERON_CACHE", &c.Cache.Type)
	str("HERON_REDIS_ADDR", &c.Cache.RedisAddr)
	str("HERON_REDIS_PASSWORD", &c.Cache.RedisPassword)
	boolean("HERON_CACHE_TWO_PHASE", &c.Cache.EnableTwoPhase)

	str("HERON_BUS", &c.EventBus.Type)
	str("HERON_NATS_URL", &c.EventBus.NATSUrl)
	str("HERON_NATS_TOKEN", &c.EventBus.NATSToken)

	boolean("HERON_ASYNC_WORKER", &c.Worker.Enabled)
	integer("HERON_WORKER_CONCURRENCY", &c.Worker.Concurrency)

	var debug bool
	boolean("HERON_DEBUG", &debug)
	if debug {
		c.Logging.Level = "debug"
	}
	str("HERON_LOG_LEVEL", &c.Logging.Level)
	str("HERON_LOG_FORMAT", &c.Logging.Format)
	boolean("HERON_TRACING", &c.Tracing.Enabled)
	boolean("HERON_METRICS", &c.Metrics.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = DefaultRemoteTimeout
	}
	return nil
}
