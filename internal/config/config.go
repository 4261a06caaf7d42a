package config

import "sync"

// Config is the root configuration. Guarded by mu because the fsnotify
// watcher can swap non-secret sections at runtime.
type Config struct {
	mu sync.RWMutex

	Env    string       `json:"env"`
	Server ServerConfig `json:"server"`

	Database  DatabaseConfig  `json:"database"`
	Vector    VectorConfig    `json:"vector"`
	OpenRouter OpenRouterConfig `json:"openrouter"`
	Embeddings EmbeddingsConfig `json:"embeddings"`

	Uploads   UploadsConfig   `json:"uploads"`
	Ingestion IngestionConfig `json:"ingestion"`
	Retrieval RetrievalConfig `json:"retrieval"`

	Security   SecurityConfig   `json:"security"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Audit      AuditConfig      `json:"audit"`

	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

type DatabaseConfig struct {
	PostgresDSN string `json:"-"` // env only, never persisted
	MaxOpen     int    `json:"max_open"`
	MaxIdle     int    `json:"max_idle"`
}

type VectorConfig struct {
	MilvusAddr string `json:"milvus_addr"`
}

type OpenRouterConfig struct {
	APIKey       string `json:"-"` // env only
	BaseURL      string `json:"base_url"`
	DefaultModel string `json:"default_model"`
}

type EmbeddingsConfig struct {
	Model     string `json:"model"`
	BatchSize int    `json:"batch_size"`
}

type UploadsConfig struct {
	Dir           string `json:"dir"`
	MaxFileSizeMB int64  `json:"max_file_size_mb"`
}

type IngestionConfig struct {
	ReaperIntervalSeconds int `json:"reaper_interval_seconds"`
	StaleProcessingMinutes int `json:"stale_processing_minutes"`
	MaxAttempts           int `json:"max_attempts"`
}

type RetrievalConfig struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxContextTokens    int     `json:"max_context_tokens"`
}

type SecurityConfig struct {
	SecretKey              string `json:"-"` // env only
	AdminPassword          string `json:"-"` // env only; plaintext (dev) or bcrypt hash
	AccessTokenExpireHours int    `json:"access_token_expire_hours"`
}

// RateLimitsConfig holds per-route requests-per-minute limits.
type RateLimitsConfig struct {
	Enabled  bool `json:"enabled"`
	LoginRPM int  `json:"login_rpm"`
	ChatRPM  int  `json:"chat_rpm"`
	UploadRPM int `json:"upload_rpm"`
	SettingsRPM int `json:"settings_rpm"`
	KeysRPM  int  `json:"keys_rpm"`
}

type AuditConfig struct {
	RetentionDays int    `json:"retention_days"`
	CleanupCron   string `json:"cleanup_cron"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "grpc" or "http"
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// MaxFileSizeBytes returns the upload cap in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Uploads.MaxFileSizeMB << 20
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Env == "production"
}

// RateLimitSnapshot returns a copy of the rate-limit section. The watcher
// may replace these values, so callers read through this instead of holding
// a reference.
func (c *Config) RateLimitSnapshot() RateLimitsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimits
}

// RetrievalSnapshot returns a copy of the retrieval knobs.
func (c *Config) RetrievalSnapshot() RetrievalConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Retrieval
}
