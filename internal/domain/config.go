package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which backends the defaults point at
	Tier Tier `mapstructure:"tier"`

	// Scoring pipeline
	Model     ModelConfig     `mapstructure:"model"`
	Explainer ExplainerConfig `mapstructure:"explainer"`
	Report    ReportConfig    `mapstructure:"report"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// ModelConfig names the artifacts to load and the decision threshold.
type ModelConfig struct {
	ModelArtifact   string  `mapstructure:"model_artifact"`
	EncoderArtifact string  `mapstructure:"encoder_artifact"`
	Threshold       float64 `mapstructure:"threshold"`
}

// ExplainerConfig holds the local surrogate sampling constants.
type ExplainerConfig struct {
	ReferenceSize int   `mapstructure:"reference_size"`
	NumSamples    int   `mapstructure:"num_samples"`
	NumFeatures   int   `mapstructure:"num_features"`
	Seed          int64 `mapstructure:"seed"`
}

// ReportConfig bounds report generation.
type ReportConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RateLimit     float64       `mapstructure:"rate_limit"` // reports per second
	RateBurst     int           `mapstructure:"rate_burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on local files, in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Model: ModelConfig{
			ModelArtifact:   ArtifactModel,
			EncoderArtifact: ArtifactEncoder,
			Threshold:       0.5,
		},
		Explainer: ExplainerConfig{
			ReferenceSize: 100,
			NumSamples:    5000,
			NumFeatures:   10,
			Seed:          42,
		},
		Report: ReportConfig{
			MaxConcurrent: 2,
			RateLimit:     2,
			RateBurst:     4,
			Timeout:       30 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver: "file",
			Dir:    "./models",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  1000,
			LocalTTL:      5 * time.Minute,
			PredictionTTL: time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
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
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		PredictionTTL:  24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
