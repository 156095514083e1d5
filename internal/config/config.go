package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the correlation engine. It is loaded
// once at startup and treated as immutable afterwards.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Window   WindowConfig   `mapstructure:"window"`
	Detector DetectorConfig `mapstructure:"detector"`
	Patterns PatternsConfig `mapstructure:"patterns"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Impact   ImpactConfig   `mapstructure:"impact"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	NATS     NATSConfig     `mapstructure:"nats"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// EngineConfig holds partitioning and output queue settings
type EngineConfig struct {
	Shards          int `mapstructure:"shards"`
	OutputQueueSize int `mapstructure:"output_queue_size"`
}

// WindowConfig holds event window buffer bounds
type WindowConfig struct {
	MaxAge    time.Duration `mapstructure:"max_age"`
	MaxEvents int           `mapstructure:"max_events"`
}

// DetectorConfig holds correlation strategy settings and promotion thresholds
type DetectorConfig struct {
	MinStrength   float64                  `mapstructure:"min_strength"`
	MinConfidence float64                  `mapstructure:"min_confidence"`
	Temporal      TemporalStrategyConfig   `mapstructure:"temporal"`
	Similarity    SimilarityStrategyConfig `mapstructure:"similarity"`
	Inherited     StrategyConfig           `mapstructure:"inherited"`
	Causal        StrategyConfig           `mapstructure:"causal"`
}

// StrategyConfig holds the enable flag and weight shared by all strategies
type StrategyConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Weight  float64 `mapstructure:"weight"`
}

// TemporalStrategyConfig holds temporal proximity strategy settings
type TemporalStrategyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Weight  float64       `mapstructure:"weight"`
	Window  time.Duration `mapstructure:"window"`
}

// SimilarityStrategyConfig holds tag similarity strategy settings
type SimilarityStrategyConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Weight     float64 `mapstructure:"weight"`
	MinOverlap float64 `mapstructure:"min_overlap"`
}

// PatternsConfig holds the pattern library location
type PatternsConfig struct {
	Path string `mapstructure:"path"`
}

// AnomalyConfig holds baseline and trigger settings for anomaly scoring
type AnomalyConfig struct {
	Decay          float64  `mapstructure:"decay"`
	SigmaThreshold float64  `mapstructure:"sigma_threshold"`
	PercentileHigh float64  `mapstructure:"percentile_high"`
	PercentileLow  float64  `mapstructure:"percentile_low"`
	MinSamples     int      `mapstructure:"min_samples"`
	MaxSamples     int      `mapstructure:"max_samples"`
	TagKeys        []string `mapstructure:"tag_keys"`
}

// ImpactConfig holds the business impact weighting formula
type ImpactConfig struct {
	Business BusinessWeights `mapstructure:"business"`
}

// BusinessWeights blends the three primary impact dimensions into the
// business sub-score.
type BusinessWeights struct {
	Performance float64 `mapstructure:"performance"`
	Cost        float64 `mapstructure:"cost"`
	Security    float64 `mapstructure:"security"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis configuration for baseline persistence
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// StorageConfig holds the OpenSearch archive configuration
type StorageConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Insecure    bool   `mapstructure:"insecure"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// NATSConfig holds message bus configuration
type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// APIConfig holds read API settings
type APIConfig struct {
	// AuthSecret enables bearer-token auth on the API when non-empty.
	AuthSecret string `mapstructure:"auth_secret"`
}

// LoggingConfig holds log level and format
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("engine.shards", 8)
	v.SetDefault("engine.output_queue_size", 1024)

	v.SetDefault("window.max_age", "24h")
	v.SetDefault("window.max_events", 100000)

	v.SetDefault("detector.min_strength", 0.8)
	v.SetDefault("detector.min_confidence", 0.5)
	v.SetDefault("detector.temporal.enabled", true)
	v.SetDefault("detector.temporal.weight", 1.0)
	v.SetDefault("detector.temporal.window", "5m")
	v.SetDefault("detector.similarity.enabled", true)
	v.SetDefault("detector.similarity.weight", 0.8)
	v.SetDefault("detector.similarity.min_overlap", 0.3)
	v.SetDefault("detector.inherited.enabled", true)
	v.SetDefault("detector.inherited.weight", 1.0)
	v.SetDefault("detector.causal.enabled", true)
	v.SetDefault("detector.causal.weight", 1.0)

	v.SetDefault("patterns.path", "")

	v.SetDefault("anomaly.decay", 0.1)
	v.SetDefault("anomaly.sigma_threshold", 3.0)
	v.SetDefault("anomaly.percentile_high", 0.99)
	v.SetDefault("anomaly.percentile_low", 0.01)
	v.SetDefault("anomaly.min_samples", 10)
	v.SetDefault("anomaly.max_samples", 1000)
	v.SetDefault("anomaly.tag_keys", []string{})

	v.SetDefault("impact.business.performance", 0.4)
	v.SetDefault("impact.business.cost", 0.3)
	v.SetDefault("impact.business.security", 0.3)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "causeway")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "causeway")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.url", "https://localhost:9200")
	v.SetDefault("storage.username", "admin")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.insecure", true)
	v.SetDefault("storage.index_prefix", "causeway")

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "causeway-engine")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("api.auth_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/causeway")
	}

	// Environment variables override (CAUSEWAY_SERVER_PORT, etc.)
	v.SetEnvPrefix("CAUSEWAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configured values for internal consistency.
func (c *Config) Validate() error {
	if c.Engine.Shards < 1 {
		return fmt.Errorf("engine.shards must be at least 1")
	}
	if c.Engine.OutputQueueSize < 1 {
		return fmt.Errorf("engine.output_queue_size must be at least 1")
	}
	if c.Window.MaxAge <= 0 {
		return fmt.Errorf("window.max_age must be positive")
	}
	if c.Window.MaxEvents < 1 {
		return fmt.Errorf("window.max_events must be at least 1")
	}
	if c.Detector.MinStrength < 0 || c.Detector.MinStrength > 1 {
		return fmt.Errorf("detector.min_strength must be in [0,1]")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be in [0,1]")
	}
	if c.Detector.Temporal.Window <= 0 {
		return fmt.Errorf("detector.temporal.window must be positive")
	}
	if c.Anomaly.Decay <= 0 || c.Anomaly.Decay > 1 {
		return fmt.Errorf("anomaly.decay must be in (0,1]")
	}
	if c.Anomaly.SigmaThreshold <= 0 {
		return fmt.Errorf("anomaly.sigma_threshold must be positive")
	}
	if c.Anomaly.PercentileLow >= c.Anomaly.PercentileHigh {
		return fmt.Errorf("anomaly.percentile_low must be below anomaly.percentile_high")
	}
	if c.Anomaly.MaxSamples < c.Anomaly.MinSamples {
		return fmt.Errorf("anomaly.max_samples must be at least anomaly.min_samples")
	}
	return nil
}
