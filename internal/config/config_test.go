package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Ingestion.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Ingestion.MaxAttempts)
	}
	if cfg.Retrieval.SimilarityThreshold != 0.7 {
		t.Errorf("similarity threshold = %v, want 0.7", cfg.Retrieval.SimilarityThreshold)
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	// JSON5: comments allowed
	content := `{
		// local overrides
		server: { port: 9000 },
		rate_limits: { chat_rpm: 60 },
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ACROSS_PORT", "9100")
	t.Setenv("ACROSS_SECRET_KEY", "test-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env should win over file: port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.RateLimits.ChatRPM != 60 {
		t.Errorf("chat rpm = %d, want 60", cfg.RateLimits.ChatRPM)
	}
	if cfg.Security.SecretKey != "test-secret" {
		t.Errorf("secret key not read from env")
	}
}

func TestProductionRequiresSecretKey(t *testing.T) {
	t.Setenv("ACROSS_ENV", "production")
	t.Setenv("ACROSS_SECRET_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing secret key in production")
	}
}

func TestProductionRejectsWildcardCORS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{server: {cors_origins: ["*"]}}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ACROSS_ENV", "production")
	t.Setenv("ACROSS_SECRET_KEY", "k")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for wildcard CORS in production")
	}
}
