package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

type Config struct {
	Port      string `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Provider and APIKey are the process-wide generator defaults, used when
	// a caller supplies no settings of its own.
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`

	Gemini   GeminiConfig   `mapstructure:"gemini"`
	DeepSeek DeepSeekConfig `mapstructure:"deepseek"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Storage  StorageConfig  `mapstructure:"storage"`

	// ContentFile replaces the embedded content catalog when set.
	ContentFile string `mapstructure:"content_file"`
}

type GeminiConfig struct {
	Model         string `mapstructure:"model"`
	AnalysisModel string `mapstructure:"analysis_model"`
	BaseURL       string `mapstructure:"base_url"`
}

type DeepSeekConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxJitter   time.Duration `mapstructure:"max_jitter"`
}

type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // "memory", "sqlite", "redis" or "firestore"
	SQLitePath string `mapstructure:"sqlite_path"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`

	GCPProjectID    string `mapstructure:"gcp_project"`
	FirestorePrefix string `mapstructure:"firestore_prefix"`
}

// env lists the variables bound to each key. The first one set wins.
var env = map[string][]string{
	"port":                     {"COMPASS_PORT", "PORT"},
	"log_level":                {"COMPASS_LOG_LEVEL"},
	"log_format":               {"COMPASS_LOG_FORMAT"},
	"provider":                 {"COMPASS_PROVIDER"},
	"api_key":                  {"COMPASS_API_KEY", "API_KEY"},
	"content_file":             {"COMPASS_CONTENT_FILE"},
	"gemini.model":             {"COMPASS_GEMINI_MODEL"},
	"gemini.analysis_model":    {"COMPASS_GEMINI_ANALYSIS_MODEL"},
	"gemini.base_url":          {"COMPASS_GEMINI_BASE_URL"},
	"deepseek.model":           {"COMPASS_DEEPSEEK_MODEL"},
	"deepseek.base_url":        {"COMPASS_DEEPSEEK_BASE_URL"},
	"retry.max_attempts":       {"COMPASS_RETRY_MAX_ATTEMPTS"},
	"retry.base_delay":         {"COMPASS_RETRY_BASE_DELAY"},
	"retry.max_jitter":         {"COMPASS_RETRY_MAX_JITTER"},
	"storage.backend":          {"COMPASS_STORAGE_BACKEND"},
	"storage.sqlite_path":      {"COMPASS_SQLITE_PATH"},
	"storage.redis_addr":       {"COMPASS_REDIS_ADDR"},
	"storage.redis_password":   {"COMPASS_REDIS_PASSWORD"},
	"storage.redis_db":         {"COMPASS_REDIS_DB"},
	"storage.redis_prefix":     {"COMPASS_REDIS_PREFIX"},
	"storage.redis_ttl":        {"COMPASS_REDIS_TTL"},
	"storage.gcp_project":      {"COMPASS_GCP_PROJECT"},
	"storage.firestore_prefix": {"COMPASS_FIRESTORE_PREFIX"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("provider", string(domain.ProviderGemini))
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.analysis_model", "gemini-2.5-pro")
	v.SetDefault("deepseek.model", "deepseek-chat")
	v.SetDefault("deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_jitter", time.Second)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "data/compass.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_prefix", "compass")
}

// Load builds the config from defaults, an optional YAML file and the
// environment, in increasing priority. An empty path falls back to
// COMPASS_CONFIG; no file is read when both are empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, names := range env {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv("COMPASS_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
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

// Validate checks the values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error

	if _, err := domain.ParseProvider(c.Provider); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendFirestore:
		if c.Storage.GCPProjectID == "" {
			errs = append(errs, errors.New("COMPASS_GCP_PROJECT is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxJitter < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}

	return errors.Join(errs...)
}
