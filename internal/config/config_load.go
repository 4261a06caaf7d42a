package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Database: DatabaseConfig{
			MaxOpen: 20,
			MaxIdle: 5,
		},
		Vector: VectorConfig{
			MilvusAddr: "localhost:19530",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "anthropic/claude-3.5-sonnet",
		},
		Embeddings: EmbeddingsConfig{
			Model:     "text-embedding-3-small",
			BatchSize: 100,
		},
		Uploads: UploadsConfig{
			Dir:           "./data/uploads",
			MaxFileSizeMB: 50,
		},
		Ingestion: IngestionConfig{
			ReaperIntervalSeconds:  300,
			StaleProcessingMinutes: 15,
			MaxAttempts:            3,
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			SimilarityThreshold: 0.7,
			MaxContextTokens:    4000,
		},
		Security: SecurityConfig{
			AccessTokenExpireHours: 8,
		},
		RateLimits: RateLimitsConfig{
			Enabled:     true,
			LoginRPM:    5,
			ChatRPM:     30,
			UploadRPM:   10,
			SettingsRPM: 10,
			KeysRPM:     10,
		},
		Audit: AuditConfig{
			RetentionDays: 365,
			CleanupCron:   "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "across",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets only live here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("ACROSS_ENV", &c.Env)
	envStr("ACROSS_HOST", &c.Server.Host)
	envInt("ACROSS_PORT", &c.Server.Port)
	if v := os.Getenv("ACROSS_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}

	// Secrets (never in the config file)
	envStr("ACROSS_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("ACROSS_OPENROUTER_API_KEY", &c.OpenRouter.APIKey)
	envStr("ACROSS_SECRET_KEY", &c.Security.SecretKey)
	envStr("ACROSS_ADMIN_PASSWORD", &c.Security.AdminPassword)

	envStr("ACROSS_OPENROUTER_BASE_URL", &c.OpenRouter.BaseURL)
	envStr("ACROSS_DEFAULT_MODEL", &c.OpenRouter.DefaultModel)
	envStr("ACROSS_EMBEDDING_MODEL", &c.Embeddings.Model)
	envStr("ACROSS_MILVUS_ADDR", &c.Vector.MilvusAddr)
	envStr("ACROSS_UPLOAD_DIR", &c.Uploads.Dir)

	envInt("ACROSS_REAPER_INTERVAL_SECONDS", &c.Ingestion.ReaperIntervalSeconds)
	envInt("ACROSS_STALE_PROCESSING_MINUTES", &c.Ingestion.StaleProcessingMinutes)
	envInt("ACROSS_TOKEN_EXPIRE_HOURS", &c.Security.AccessTokenExpireHours)

	envStr("ACROSS_LOG_LEVEL", &c.Logging.Level)
	envStr("ACROSS_LOG_FORMAT", &c.Logging.Format)

	envStr("ACROSS_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ACROSS_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ACROSS_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("ACROSS_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ACROSS_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("ACROSS_RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimits.Enabled = v == "true" || v == "1"
	}
}

// validate enforces production-only invariants.
func (c *Config) validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.Security.SecretKey == "" {
		return fmt.Errorf("ACROSS_SECRET_KEY must be set in production")
	}
	for _, origin := range c.Server.CORSOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("CORS wildcard origins not allowed in production: %s", origin)
		}
	}
	return nil
}

// Save writes the config to a JSON file. Secret fields carry no JSON tags
// worth persisting, so they never land on disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
