// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (SHELFMATE_* runtime override)
//  2. Config file (~/.shelfmate/config.yaml or --config path)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: model and embedder selection, call timeouts
//   - Storage: PostgreSQL catalog connection (optional; in-memory fallback)
//   - Cache: Redis embedding cache (optional)
//   - Retrieval: waterfall tunables (top-K, similarity floor, max results)
//
// Security: the PostgreSQL password and the API key are masked in
// MarshalJSON and never logged.
//
// Error Handling: sentinel errors for Go-idiomatic checking with
// errors.Is(), wrapped with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedDimension indicates the embedding dimension is out of range.
	ErrInvalidEmbedDimension = errors.New("invalid embedding dimension")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-K")

	// ErrInvalidSimilarityFloor indicates the similarity floor is out of range.
	ErrInvalidSimilarityFloor = errors.New("invalid similarity floor")

	// ErrInvalidMaxResults indicates the surfaced result cap is out of range.
	ErrInvalidMaxResults = errors.New("invalid max results")

	// ErrInvalidTimeout indicates a timeout value is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// Defaults for retrieval tunables. The similarity floor matches the value
// the catalog descriptions were tuned against; raise it for cleaner data.
const (
	DefaultModelName     = "googleai/gemini-2.5-flash"
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultEmbedDimension is text-embedding-004's output dimension.
	// Must be changed together with embedder_model and the pgvector
	// column width when switching models.
	DefaultEmbedDimension = 768

	DefaultTopK            = 8
	DefaultSimilarityFloor = 0.1
	DefaultMaxResults      = 5

	// MaxRequestedCount is the hard cap on how many books a single turn
	// may surface, regardless of what the user asked for.
	MaxRequestedCount = 20
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI model configuration
	ModelName     string        `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string        `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedDimension int          `mapstructure:"embed_dimension" json:"embed_dimension"`
	GeminiAPIKey  string        `mapstructure:"gemini_api_key" json:"gemini_api_key"`
	LLMTimeout    time.Duration `mapstructure:"llm_timeout" json:"llm_timeout"`
	EmbedTimeout  time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`

	// PostgreSQL catalog store. Empty host selects the in-memory catalog.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`

	// Redis embedding cache. Empty address disables caching.
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`

	// Retrieval waterfall tunables
	TopK            int     `mapstructure:"top_k" json:"top_k"`
	SimilarityFloor float64 `mapstructure:"similarity_floor" json:"similarity_floor"`
	MaxResults      int     `mapstructure:"max_results" json:"max_results"`

	// External metadata source
	ExternalTimeout time.Duration `mapstructure:"external_timeout" json:"external_timeout"`

	// HTTP server
	Port int `mapstructure:"port" json:"port"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration from defaults, an optional config file and
// SHELFMATE_* environment variables, in ascending priority.
// configPath may be empty, in which case ~/.shelfmate/config.yaml is used
// when present.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SHELFMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".shelfmate"))
		// Missing default config file is fine; other read errors are not.
		var nf viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &nf) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embed_dimension", DefaultEmbedDimension)
	v.SetDefault("llm_timeout", 30*time.Second)
	v.SetDefault("embed_timeout", 10*time.Second)

	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "shelfmate")
	v.SetDefault("postgres_dbname", "shelfmate")
	v.SetDefault("postgres_sslmode", "prefer")

	v.SetDefault("cache_ttl", time.Hour)

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("similarity_floor", DefaultSimilarityFloor)
	v.SetDefault("max_results", DefaultMaxResults)

	v.SetDefault("external_timeout", 8*time.Second)

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
}

// Validate checks configuration values against allowed ranges.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedDimension < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidEmbedDimension, c.EmbedDimension)
	}
	if c.PostgresHost != "" {
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
		switch c.PostgresSSLMode {
		case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSSLMode, c.PostgresSSLMode)
		}
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.TopK)
	}
	if c.SimilarityFloor < 0 || c.SimilarityFloor >= 1 {
		return fmt.Errorf("%w: %g (must be in [0,1))", ErrInvalidSimilarityFloor, c.SimilarityFloor)
	}
	if c.MaxResults < 1 || c.MaxResults > MaxRequestedCount {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidMaxResults, c.MaxResults, MaxRequestedCount)
	}
	for _, d := range []time.Duration{c.LLMTimeout, c.EmbedTimeout, c.ExternalTimeout} {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidTimeout, d)
		}
	}
	return nil
}

// ConnString builds the PostgreSQL connection string.
// Returns the empty string when no host is configured.
func (c *Config) ConnString() string {
	if c.PostgresHost == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "****"
	}
	if masked.GeminiAPIKey != "" {
		masked.GeminiAPIKey = "****"
	}
	return json.Marshal(masked)
}
