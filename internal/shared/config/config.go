package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultMaxUploadBytes   = 25 << 20
	defaultMaxMediaBytes    = 25 << 20
	defaultPromptCharBudget = 8000
	defaultModelName        = "gpt-4o-mini"
)

// Config holds application configuration.
type Config struct {
	Env              string   `yaml:"env"`
	Port             string   `yaml:"port"`
	LogLevel         string   `yaml:"log_level"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
	PublicBaseURL    string   `yaml:"public_base_url"`
	DatabaseURL      string   `yaml:"database_url"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Upload      UploadConfig      `yaml:"upload"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// ObjectStoreConfig selects and configures the byte store.
type ObjectStoreConfig struct {
	Type        string `yaml:"type"`
	LocalDir    string `yaml:"local_dir"`
	AWSRegion   string `yaml:"aws_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix"`
	SSEKMSKeyID string `yaml:"sse_kms_key_id"`
	PublicURL   string `yaml:"public_url"`
}

// UploadConfig bounds accepted payloads.
type UploadConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxMediaBytes  int64 `yaml:"max_media_bytes"`
}

// AnalysisConfig configures the provider client and the worker pool.
type AnalysisConfig struct {
	Provider         string   `yaml:"provider"`
	ProviderAPIKey   string   `yaml:"provider_api_key"`
	ModelName        string   `yaml:"model_name"`
	PromptCharBudget int      `yaml:"prompt_char_budget"`
	RequestTimeout   Duration `yaml:"request_timeout"`
	Workers          int      `yaml:"workers"`
	QueueSize        int      `yaml:"queue_size"`
	BreakerEnabled   bool     `yaml:"breaker_enabled"`
}

// DispatchConfig selects how document ids reach the analysis workers.
type DispatchConfig struct {
	Mode        string `yaml:"mode"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// RedisConfig enables the cross-process analysis lock when Addr is set.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	LockTTL  Duration `yaml:"lock_ttl"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	AllowGuests bool   `yaml:"allow_guests"`
}

// RateLimitConfig configures per-identity request limits.
type RateLimitConfig struct {
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
	MaxKeys int     `yaml:"max_keys"`
}

// Default returns the configuration used before any file or env overrides.
func Default() Config {
	return Config{
		Env:              "dev",
		Port:             "8080",
		LogLevel:         "info",
		CORSAllowOrigins: []string{"http://localhost:3000"},
		ShutdownTimeout:  Duration(30 * time.Second),
		ObjectStore: ObjectStoreConfig{
			Type:     "local",
			LocalDir: "./data",
		},
		Upload: UploadConfig{
			MaxUploadBytes: defaultMaxUploadBytes,
			MaxMediaBytes:  defaultMaxMediaBytes,
		},
		Analysis: AnalysisConfig{
			Provider:         "openai",
			ModelName:        defaultModelName,
			PromptCharBudget: defaultPromptCharBudget,
			RequestTimeout:   Duration(60 * time.Second),
			Workers:          4,
			QueueSize:        64,
			BreakerEnabled:   true,
		},
		Dispatch: DispatchConfig{
			Mode:        "local",
			NATSSubject: "documents.analyze",
		},
		Redis: RedisConfig{
			LockTTL: Duration(5 * time.Minute),
		},
		Auth: AuthConfig{
			AllowGuests: true,
		},
		RateLimit: RateLimitConfig{
			RPS:     5,
			Burst:   20,
			MaxKeys: 10000,
		},
	}
}

// Load builds the configuration from .env files, an optional YAML file
// (CONFIG_FILE) and environment variables, in that order of precedence.
func Load() (Config, error) {
	loadDotEnv(".env", "cmd/.env")

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for binaries that cannot start without configuration.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	var errs []error
	if c.IsProduction() {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if strings.TrimSpace(c.Auth.JWTSecret) == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
	}
	if c.Upload.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Upload.MaxMediaBytes <= 0 {
		errs = append(errs, errors.New("MAX_MEDIA_BYTES must be positive"))
	}
	if c.Analysis.PromptCharBudget <= 0 {
		errs = append(errs, errors.New("PROMPT_CHAR_BUDGET must be positive"))
	}
	if c.ObjectStore.Type == "s3" && strings.TrimSpace(c.ObjectStore.S3Bucket) == "" {
		errs = append(errs, errors.New("OBJECT_STORE=s3 requires S3_BUCKET"))
	}
	if c.Dispatch.Mode == "nats" && strings.TrimSpace(c.Dispatch.NATSURL) == "" {
		errs = append(errs, errors.New("DISPATCH_MODE=nats requires NATS_URL"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether strict settings apply.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func (c *Config) normalize() {
	c.Env = normalizeEnv(c.Env)
	c.ObjectStore.Type = normalizeStoreType(c.ObjectStore.Type)
	c.Analysis.Provider = strings.ToLower(strings.TrimSpace(c.Analysis.Provider))
	if strings.TrimSpace(c.Analysis.ModelName) == "" {
		c.Analysis.ModelName = defaultModelName
	}
	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = 1
	}
	if c.Analysis.QueueSize < 0 {
		c.Analysis.QueueSize = 0
	}
	switch strings.ToLower(strings.TrimSpace(c.Dispatch.Mode)) {
	case "nats":
		c.Dispatch.Mode = "nats"
	default:
		c.Dispatch.Mode = "local"
	}
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
}

func applyEnv(c *Config) {
	setString(&c.Env, "ENV")
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	if raw := os.Getenv("CORS_ALLOW_ORIGINS"); raw != "" {
		c.CORSAllowOrigins = splitAndTrim(raw)
	}
	setString(&c.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	setString(&c.ObjectStore.Type, "OBJECT_STORE")
	setString(&c.ObjectStore.LocalDir, "LOCAL_STORE_DIR")
	setString(&c.ObjectStore.AWSRegion, "AWS_REGION")
	setString(&c.ObjectStore.S3Bucket, "S3_BUCKET")
	setString(&c.ObjectStore.S3Prefix, "S3_PREFIX")
	setString(&c.ObjectStore.SSEKMSKeyID, "SSE_KMS_KEY_ID")
	setString(&c.ObjectStore.PublicURL, "S3_PUBLIC_URL")

	setInt64(&c.Upload.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	setInt64(&c.Upload.MaxMediaBytes, "MAX_MEDIA_BYTES")

	setString(&c.Analysis.Provider, "LLM_PROVIDER")
	setString(&c.Analysis.ModelName, "MODEL_NAME")
	setString(&c.Analysis.ProviderAPIKey, "PROVIDER_API_KEY")
	if c.Analysis.ProviderAPIKey == "" {
		switch strings.ToLower(strings.TrimSpace(c.Analysis.Provider)) {
		case "gemini":
			setString(&c.Analysis.ProviderAPIKey, "GEMINI_API_KEY")
		default:
			setString(&c.Analysis.ProviderAPIKey, "OPENAI_API_KEY")
		}
	}
	setInt(&c.Analysis.PromptCharBudget, "PROMPT_CHAR_BUDGET")
	setDuration(&c.Analysis.RequestTimeout, "ANALYSIS_REQUEST_TIMEOUT")
	setInt(&c.Analysis.Workers, "ANALYSIS_WORKERS")
	setInt(&c.Analysis.QueueSize, "ANALYSIS_QUEUE_SIZE")
	setBool(&c.Analysis.BreakerEnabled, "BREAKER_ENABLED")

	setString(&c.Dispatch.Mode, "DISPATCH_MODE")
	setString(&c.Dispatch.NATSURL, "NATS_URL")
	setString(&c.Dispatch.NATSSubject, "NATS_SUBJECT")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setDuration(&c.Redis.LockTTL, "ANALYSIS_LOCK_TTL")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setBool(&c.Auth.AllowGuests, "AUTH_ALLOW_GUESTS")

	setFloat(&c.RateLimit.RPS, "RATE_LIMIT_RPS")
	setInt(&c.RateLimit.Burst, "RATE_LIMIT_BURST")
	setInt(&c.RateLimit.MaxKeys, "RATE_LIMIT_MAX_KEYS")
}

// loadDotEnv loads env files for local development. Variables already present
// in the process environment win; missing files are ignored.
func loadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("config: ignoring %s: %v", path, err)
		}
	}
}

func setString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s invalid int %q: %v", key, raw, err)
		return
	}
	*dst = val
}

func setInt64(dst *int64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("config: %s invalid int %q: %v", key, raw, err)
		return
	}
	*dst = val
}

func setFloat(dst *float64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config: %s invalid float %q: %v", key, raw, err)
		return
	}
	*dst = val
}

func setBool(dst *bool, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config: %s invalid bool %q: %v", key, raw, err)
		return
	}
	*dst = val
}

func setDuration(dst *Duration, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	val, err := parseDuration(raw)
	if err != nil {
		log.Printf("config: %s invalid duration %q: %v", key, raw, err)
		return
	}
	*dst = Duration(val)
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
