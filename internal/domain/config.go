package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier selects the backing infrastructure
	Tier Tier `json:"tier"`

	// Pipeline configuration
	Scoring    ScoringConfig    `json:"scoring"`
	Classifier ClassifierConfig `json:"classifier"`
	Generator  GeneratorConfig  `json:"generator"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig selects the scorer and the alert threshold.
type ScoringConfig struct {
	// Mode is "rules", "classifier" or "simulation".
	Mode ScoringMode `json:"mode"`

	// Threshold is the probability at or above which a transaction is flagged.
	Threshold float64 `json:"threshold"`

	HighAmount       float64 `json:"highAmount"`
	SuspiciousAmount float64 `json:"suspiciousAmount"`
}

// RetrainPolicy controls which examples a classifier retrain uses.
type RetrainPolicy string

const (
	// RetrainAccumulated trains on the seed set plus every labeled example.
	RetrainAccumulated RetrainPolicy = "accumulated"

	// RetrainLatest trains on the newest labeled example only.
	RetrainLatest RetrainPolicy = "latest"
)

// ClassifierConfig holds random forest settings.
type ClassifierConfig struct {
	Trees            int           `json:"trees"`
	FeaturesPerSplit int           `json:"featuresPerSplit"`
	MaxDepth         int           `json:"maxDepth"` // negative = unbounded
	Seed             int64         `json:"seed"`
	RetrainPolicy    RetrainPolicy `json:"retrainPolicy"`
	MaxHistory       int           `json:"maxHistory"`
}

// GeneratorConfig holds synthetic transaction settings.
type GeneratorConfig struct {
	MinAmount     float64       `json:"minAmount"`
	MaxAmount     float64       `json:"maxAmount"`
	MaxInterval   time.Duration `json:"maxInterval"`
	FraudBias     float64       `json:"fraudBias"`
	QueueCapacity int           `json:"queueCapacity"`

	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `json:"seed"`

	// AutoStart begins the simulation when the service starts.
	AutoStart bool `json:"autoStart"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"serviceName"`
	Endpoint    string  `json:"endpoint"`    // OTLP/gRPC collector host:port
	SampleRatio float64 `json:"sampleRatio"` // fraction of root spans kept
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-memory LRU and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			Mode:             ScoringRules,
			Threshold:        DefaultFraudThreshold,
			HighAmount:       8000,
			SuspiciousAmount: 5000,
		},
		Classifier: ClassifierConfig{
			Trees:            100,
			FeaturesPerSplit: 3,
			MaxDepth:         16,
			Seed:             42,
			RetrainPolicy:    RetrainAccumulated,
			MaxHistory:       5000,
		},
		Generator: GeneratorConfig{
			MinAmount:     10,
			MaxAmount:     10000,
			MaxInterval:   time.Second,
			QueueCapacity: 1000,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			AssessmentTTL: time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
			Endpoint:    "localhost:4317",
			SampleRatio: 1,
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		AssessmentTTL:  time.Hour,
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
