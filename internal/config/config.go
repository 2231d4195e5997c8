// Package config loads Harrier configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Prefix is prepended to every environment variable name.
const Prefix = "HARRIER_"

// Load reads a .env file if present, then HARRIER_* environment variables.
func Load() (*domain.Config, error) {
	// .env is optional
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a configuration from getenv. HARRIER_TIER=pro selects the
// pro defaults; every other variable overrides a single field.
func FromEnv(getenv func(string) string) (*domain.Config, error) {
	e := &env{getenv: getenv}

	cfg := domain.DefaultConfig()
	if e.str("TIER", "") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = e.str("HOST", cfg.Server.Host)
	cfg.Server.Port = e.int("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = e.int("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.int("WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	cfg.Scoring.Mode = domain.ScoringMode(e.str("SCORING_MODE", string(cfg.Scoring.Mode)))
	cfg.Scoring.Threshold = e.float("THRESHOLD", cfg.Scoring.Threshold)
	cfg.Scoring.HighAmount = e.float("HIGH_AMOUNT", cfg.Scoring.HighAmount)
	cfg.Scoring.SuspiciousAmount = e.float("SUSPICIOUS_AMOUNT", cfg.Scoring.SuspiciousAmount)

	cfg.Classifier.Trees = e.int("CLASSIFIER_TREES", cfg.Classifier.Trees)
	cfg.Classifier.FeaturesPerSplit = e.int("CLASSIFIER_FEATURES", cfg.Classifier.FeaturesPerSplit)
	cfg.Classifier.MaxDepth = e.int("CLASSIFIER_MAX_DEPTH", cfg.Classifier.MaxDepth)
	cfg.Classifier.Seed = int64(e.int("CLASSIFIER_SEED", int(cfg.Classifier.Seed)))
	cfg.Classifier.RetrainPolicy = domain.RetrainPolicy(e.str("RETRAIN_POLICY", string(cfg.Classifier.RetrainPolicy)))
	cfg.Classifier.MaxHistory = e.int("MAX_HISTORY", cfg.Classifier.MaxHistory)

	cfg.Generator.MinAmount = e.float("MIN_AMOUNT", cfg.Generator.MinAmount)
	cfg.Generator.MaxAmount = e.float("MAX_AMOUNT", cfg.Generator.MaxAmount)
	cfg.Generator.MaxInterval = e.duration("MAX_INTERVAL", cfg.Generator.MaxInterval)
	cfg.Generator.FraudBias = e.float("FRAUD_BIAS", cfg.Generator.FraudBias)
	cfg.Generator.QueueCapacity = e.int("QUEUE_CAPACITY", cfg.Generator.QueueCapacity)
	cfg.Generator.Seed = int64(e.int("GENERATOR_SEED", int(cfg.Generator.Seed)))
	cfg.Generator.AutoStart = e.bool("AUTOSTART", cfg.Generator.AutoStart)

	cfg.Repository.Driver = e.str("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = e.str("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = e.str("PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = e.int("PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = e.str("PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = e.str("PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = e.str("PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = e.str("PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = e.str("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = e.str("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = e.str("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = e.int("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.AssessmentTTL = e.duration("ASSESSMENT_TTL", cfg.Cache.AssessmentTTL)

	cfg.EventBus.Type = e.str("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = e.str("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = e.str("NATS_TOKEN", cfg.EventBus.NATSToken)

	cfg.Logging.Level = e.str("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = e.str("LOG_FORMAT", cfg.Logging.Format)
	if e.bool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = e.bool("TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = e.str("SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Endpoint = e.str("OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SampleRatio = e.float("TRACE_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the pipeline cannot default on its own.
func Validate(cfg *domain.Config) error {
	switch cfg.Scoring.Mode {
	case domain.ScoringRules, domain.ScoringClassifier, domain.ScoringSimulation:
	default:
		return fmt.Errorf("invalid scoring mode %q", cfg.Scoring.Mode)
	}
	if cfg.Scoring.Threshold <= 0 || cfg.Scoring.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0,1], got %v", cfg.Scoring.Threshold)
	}
	switch cfg.Classifier.RetrainPolicy {
	case domain.RetrainAccumulated, domain.RetrainLatest:
	default:
		return fmt.Errorf("invalid retrain policy %q", cfg.Classifier.RetrainPolicy)
	}
	if cfg.Generator.FraudBias < 0 || cfg.Generator.FraudBias > 1 {
		return fmt.Errorf("fraud bias must be in [0,1], got %v", cfg.Generator.FraudBias)
	}
	if cfg.Generator.MinAmount < 0 || cfg.Generator.MaxAmount < cfg.Generator.MinAmount {
		return fmt.Errorf("invalid amount range [%v, %v]", cfg.Generator.MinAmount, cfg.Generator.MaxAmount)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if cfg.Tracing.Enabled {
		if strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
			return errors.New("tracing enabled without an OTLP endpoint")
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			return fmt.Errorf("trace sample ratio must be in [0,1], got %v", cfg.Tracing.SampleRatio)
		}
	}
	return nil
}

// env reads prefixed variables and collects parse errors.
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) str(key, def string) string {
	if v := e.getenv(Prefix + key); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.getenv(Prefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid integer %q", Prefix, key, v))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := e.getenv(Prefix + key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid number %q", Prefix, key, v))
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	v := e.getenv(Prefix + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid boolean %q", Prefix, key, v))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(Prefix + key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid duration %q", Prefix, key, v))
		return def
	}
	return d
}
