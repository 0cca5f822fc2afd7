// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Services ServicesConfig `mapstructure:"services"`
	Router   RouterConfig   `mapstructure:"router"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"` // embedding record index
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- External Service Adapters ---

// ServiceConfig holds settings common to the embedding and classification
// service adapters.
type ServiceConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

type ServicesConfig struct {
	Embedding  ServiceConfig `mapstructure:"embedding"`
	Classifier ServiceConfig `mapstructure:"classifier"`
}

// --- Router Decision Parameters ---

type RouterConfig struct {
	MaxQueryLength       int     `mapstructure:"max_query_length"`
	MaxInputTokens       int     `mapstructure:"max_input_tokens"`
	EmbeddingDims        int     `mapstructure:"embedding_dims"`
	DirectConfidence     float64 `mapstructure:"direct_confidence"`
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
	SimilarityReuse      float64 `mapstructure:"similarity_reuse"`
	IntentConfidence     float64 `mapstructure:"intent_confidence"`
	KeywordMatchFraction float64 `mapstructure:"keyword_match_fraction"`
	FallbackConfidence   float64 `mapstructure:"fallback_confidence"`
	SimilarityLimit      int     `mapstructure:"similarity_limit"`
	FeedbackBuffer       int     `mapstructure:"feedback_buffer"`
}

// --- Cache Configuration ---

// CacheLayerConfig bounds one cache layer's TTL. The performance monitor may
// move the effective TTL between FloorSeconds and CeilingSeconds.
type CacheLayerConfig struct {
	TTLSeconds     int `mapstructure:"ttl_seconds"`
	FloorSeconds   int `mapstructure:"floor_seconds"`
	CeilingSeconds int `mapstructure:"ceiling_seconds"`
}

type CacheConfig struct {
	Embedding    CacheLayerConfig `mapstructure:"embedding"`
	Similarity   CacheLayerConfig `mapstructure:"similarity"`
	QueryResult  CacheLayerConfig `mapstructure:"query_result"`
	SpecTemplate CacheLayerConfig `mapstructure:"spec_template"`
}

// --- Security Configuration ---

type SecurityConfig struct {
	// RoleCeilings caps row_limit per caller role; DefaultCeiling applies to
	// unknown roles.
	RoleCeilings   map[string]int `mapstructure:"role_ceilings"`
	DefaultCeiling int            `mapstructure:"default_ceiling"`
}

// CeilingFor returns the row-limit ceiling for a role.
func (s SecurityConfig) CeilingFor(role string) int {
	if c, ok := s.RoleCeilings[role]; ok && c > 0 {
		return c
	}
	return s.DefaultCeiling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
