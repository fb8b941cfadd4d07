package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE", "ENV", "PORT", "LOG_LEVEL", "CORS_ALLOW_ORIGINS", "PUBLIC_BASE_URL",
		"DATABASE_URL", "SHUTDOWN_TIMEOUT", "OBJECT_STORE", "LOCAL_STORE_DIR", "AWS_REGION",
		"S3_BUCKET", "S3_PREFIX", "SSE_KMS_KEY_ID", "S3_PUBLIC_URL", "MAX_UPLOAD_BYTES",
		"MAX_MEDIA_BYTES", "LLM_PROVIDER", "MODEL_NAME", "PROVIDER_API_KEY", "OPENAI_API_KEY",
		"GEMINI_API_KEY", "PROMPT_CHAR_BUDGET", "ANALYSIS_REQUEST_TIMEOUT", "ANALYSIS_WORKERS",
		"ANALYSIS_QUEUE_SIZE", "BREAKER_ENABLED", "DISPATCH_MODE", "NATS_URL", "NATS_SUBJECT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "ANALYSIS_LOCK_TTL", "JWT_SECRET",
		"AUTH_ALLOW_GUESTS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_MAX_KEYS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.Upload.MaxUploadBytes != 25<<20 {
		t.Fatalf("unexpected max upload bytes %d", cfg.Upload.MaxUploadBytes)
	}
	if cfg.Analysis.PromptCharBudget != 8000 {
		t.Fatalf("unexpected prompt budget %d", cfg.Analysis.PromptCharBudget)
	}
	if cfg.Analysis.ModelName != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", cfg.Analysis.ModelName)
	}
	if cfg.Dispatch.Mode != "local" {
		t.Fatalf("unexpected dispatch mode %q", cfg.Dispatch.Mode)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
port: "9090"
analysis:
  model_name: from-file
  prompt_char_budget: 4000
  request_timeout: 15s
upload:
  max_upload_bytes: 1024
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MODEL_NAME", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Port)
	}
	if cfg.Analysis.ModelName != "from-env" {
		t.Fatalf("expected env to win, got %q", cfg.Analysis.ModelName)
	}
	if cfg.Analysis.PromptCharBudget != 4000 {
		t.Fatalf("expected budget from file, got %d", cfg.Analysis.PromptCharBudget)
	}
	if cfg.Analysis.RequestTimeout.Std() != 15*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Analysis.RequestTimeout.Std())
	}
	if cfg.Upload.MaxUploadBytes != 1024 {
		t.Fatalf("unexpected max upload %d", cfg.Upload.MaxUploadBytes)
	}
	if cfg.Analysis.ProviderAPIKey != "sk-test" {
		t.Fatalf("expected provider key fallback, got %q", cfg.Analysis.ProviderAPIKey)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowOrigins)
	}
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "prod")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected both missing settings reported, got %v", err)
	}
}

func TestParseDurationAcceptsSeconds(t *testing.T) {
	got, err := parseDuration("90")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if _, err := parseDuration("soon"); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
