package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func mapEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(mapEnv(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	def := domain.DefaultConfig()
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Scoring != def.Scoring {
		t.Errorf("expected default scoring, got %+v", cfg.Scoring)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community stack: %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
	if cfg.Tracing.Enabled {
		t.Error("expected tracing disabled by default")
	}
	if cfg.Classifier.MaxDepth != 16 || cfg.Classifier.MaxHistory != 5000 {
		t.Errorf("unexpected classifier bounds: depth %d history %d", cfg.Classifier.MaxDepth, cfg.Classifier.MaxHistory)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"HARRIER_TIER":               "pro",
		"HARRIER_PORT":               "9090",
		"HARRIER_SCORING_MODE":       "classifier",
		"HARRIER_THRESHOLD":          "0.6",
		"HARRIER_RETRAIN_POLICY":     "latest",
		"HARRIER_MAX_INTERVAL":       "250ms",
		"HARRIER_FRAUD_BIAS":         "0.25",
		"HARRIER_AUTOSTART":          "true",
		"HARRIER_REDIS_ADDR":         "redis:6379",
		"HARRIER_DEBUG":              "true",
		"HARRIER_TRACING":            "true",
		"HARRIER_SERVICE_NAME":       "harrier-eu",
		"HARRIER_OTLP_ENDPOINT":      "collector:4317",
		"HARRIER_TRACE_SAMPLE_RATIO": "0.25",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
		t.Errorf("expected pro defaults, got tier %s driver %s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.Mode != domain.ScoringClassifier || cfg.Scoring.Threshold != 0.6 {
		t.Errorf("unexpected scoring: %+v", cfg.Scoring)
	}
	if cfg.Classifier.RetrainPolicy != domain.RetrainLatest {
		t.Errorf("expected latest policy, got %s", cfg.Classifier.RetrainPolicy)
	}
	if cfg.Generator.MaxInterval != 250*time.Millisecond || cfg.Generator.FraudBias != 0.25 || !cfg.Generator.AutoStart {
		t.Errorf("unexpected generator config: %+v", cfg.Generator)
	}
	if cfg.Cache.RedisAddr != "redis:6379" {
		t.Errorf("expected redis override, got %s", cfg.Cache.RedisAddr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Logging.Level)
	}
	want := domain.TracingConfig{Enabled: true, ServiceName: "harrier-eu", Endpoint: "collector:4317", SampleRatio: 0.25}
	if cfg.Tracing != want {
		t.Errorf("unexpected tracing config: %+v", cfg.Tracing)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"bad integer", map[string]string{"HARRIER_PORT": "http"}, "HARRIER_PORT"},
		{"bad duration", map[string]string{"HARRIER_MAX_INTERVAL": "soon"}, "HARRIER_MAX_INTERVAL"},
		{"bad mode", map[string]string{"HARRIER_SCORING_MODE": "oracle"}, "scoring mode"},
		{"threshold range", map[string]string{"HARRIER_THRESHOLD": "1.5"}, "threshold"},
		{"bias range", map[string]string{"HARRIER_FRAUD_BIAS": "-0.1"}, "fraud bias"},
		{"policy", map[string]string{"HARRIER_RETRAIN_POLICY": "sometimes"}, "retrain policy"},
		{"amount range", map[string]string{"HARRIER_MIN_AMOUNT": "500", "HARRIER_MAX_AMOUNT": "100"}, "amount range"},
		{"sample ratio", map[string]string{"HARRIER_TRACING": "true", "HARRIER_TRACE_SAMPLE_RATIO": "2"}, "sample ratio"},
		{"tracing endpoint", map[string]string{"HARRIER_TRACING": "true", "HARRIER_OTLP_ENDPOINT": " "}, "OTLP endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(mapEnv(tt.vars))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HARRIER_PORT=7070\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HARRIER_PORT", "")
	os.Unsetenv("HARRIER_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port from .env, got %d", cfg.Server.Port)
	}
}
