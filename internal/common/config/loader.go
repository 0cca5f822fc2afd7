// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like EMBEDDING_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay, ignored if not present
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from the likely run directories before falling back
// to system environment variables.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig applies direct env overrides for values still empty
// after expansion.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Services.Embedding.APIKey == "" {
		if val := os.Getenv("EMBEDDING_API_KEY"); val != "" {
			cfg.Services.Embedding.APIKey = val
		}
	}
	if cfg.Services.Classifier.APIKey == "" {
		if val := os.Getenv("CLASSIFIER_API_KEY"); val != "" {
			cfg.Services.Classifier.APIKey = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15000
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "nlq-embedding-records"
	}

	// Service adapter defaults
	if cfg.Services.Embedding.Timeout == 0 {
		cfg.Services.Embedding.Timeout = 2500
	}
	if cfg.Services.Embedding.MaxRetries == 0 {
		cfg.Services.Embedding.MaxRetries = 1
	}
	if cfg.Services.Classifier.Timeout == 0 {
		cfg.Services.Classifier.Timeout = 3000
	}
	if cfg.Services.Classifier.MaxRetries == 0 {
		cfg.Services.Classifier.MaxRetries = 1
	}

	// Router decision defaults (strict > comparisons downstream)
	if cfg.Router.MaxQueryLength == 0 {
		cfg.Router.MaxQueryLength = 2048
	}
	if cfg.Router.MaxInputTokens == 0 {
		cfg.Router.MaxInputTokens = 256
	}
	if cfg.Router.EmbeddingDims == 0 {
		cfg.Router.EmbeddingDims = 384
	}
	if cfg.Router.DirectConfidence == 0 {
		cfg.Router.DirectConfidence = 0.9
	}
	if cfg.Router.SimilarityThreshold == 0 {
		cfg.Router.SimilarityThreshold = 0.8
	}
	if cfg.Router.SimilarityReuse == 0 {
		cfg.Router.SimilarityReuse = 0.85
	}
	if cfg.Router.IntentConfidence == 0 {
		cfg.Router.IntentConfidence = 0.7
	}
	if cfg.Router.KeywordMatchFraction == 0 {
		cfg.Router.KeywordMatchFraction = 0.3
	}
	if cfg.Router.FallbackConfidence == 0 {
		cfg.Router.FallbackConfidence = 0.5
	}
	if cfg.Router.SimilarityLimit == 0 {
		cfg.Router.SimilarityLimit = 5
	}
	if cfg.Router.FeedbackBuffer == 0 {
		cfg.Router.FeedbackBuffer = 1024
	}

	// Cache layer defaults: embedding long, similarity medium, results short,
	// templates long.
	applyCacheLayerDefaults(&cfg.Cache.Embedding, 3600, 600, 14400)
	applyCacheLayerDefaults(&cfg.Cache.Similarity, 1800, 300, 7200)
	applyCacheLayerDefaults(&cfg.Cache.QueryResult, 900, 60, 3600)
	applyCacheLayerDefaults(&cfg.Cache.SpecTemplate, 7200, 900, 28800)

	// Security defaults
	if cfg.Security.DefaultCeiling == 0 {
		cfg.Security.DefaultCeiling = 1000
	}
	if cfg.Security.RoleCeilings == nil {
		cfg.Security.RoleCeilings = map[string]int{
			"viewer":  500,
			"analyst": 5000,
			"admin":   20000,
		}
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applyCacheLayerDefaults(layer *CacheLayerConfig, ttl, floor, ceiling int) {
	if layer.TTLSeconds == 0 {
		layer.TTLSeconds = ttl
	}
	if layer.FloorSeconds == 0 {
		layer.FloorSeconds = floor
	}
	if layer.CeilingSeconds == 0 {
		layer.CeilingSeconds = ceiling
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Services.Embedding.BaseURL == "" {
		return fmt.Errorf("services.embedding.base_url is required")
	}
	if cfg.Services.Classifier.BaseURL == "" {
		return fmt.Errorf("services.classifier.base_url is required")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
