package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
	return configPath
}

const minimalYAML = `
port: "8443"
env: "test"
database:
  host: "localhost"
`

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "8443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
`)

	os.Unsetenv("PGHOST")
	os.Unsetenv("BASE_URL")

	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4443" {
		t.Errorf("expected BaseURL=http://localhost:4443 (auto-derived from PORT), got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
}

func TestLoad_BaseURLAutoDerive(t *testing.T) {
	writeConfig(t, `
port: "5678"
env: "test"
database:
  host: "localhost"
`)

	os.Unsetenv("BASE_URL")
	os.Unsetenv("PORT")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.BaseURL != "http://localhost:5678" {
		t.Errorf("expected BaseURL=http://localhost:5678 (auto-derived), got %s", cfg.BaseURL)
	}
}

func TestLoad_BaseURLExplicit(t *testing.T) {
	writeConfig(t, `
port: "8443"
env: "test"
base_url: "http://my-server.internal:8080"
database:
  host: "localhost"
`)

	os.Unsetenv("BASE_URL")
	os.Unsetenv("PORT")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.BaseURL != "http://my-server.internal:8080" {
		t.Errorf("expected BaseURL=http://my-server.internal:8080 (explicit), got %s", cfg.BaseURL)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	_, err = Load("test-version")
	if err == nil {
		t.Error("expected error when config.yaml is missing")
	}
}

func TestLoad_DomainDefaults(t *testing.T) {
	writeConfig(t, minimalYAML)

	os.Unsetenv("RATE_LIMIT_MAX_REQUESTS")
	os.Unsetenv("BREAKER_FAILURE_THRESHOLD")
	os.Unsetenv("LLM_TIMEOUT_SECONDS")
	os.Unsetenv("CACHE_TTL_SECONDS")
	os.Unsetenv("HISTORY_RETENTION_DAYS")
	os.Unsetenv("VALIDATOR_DEFAULT_LIMIT")
	os.Unsetenv("VALIDATOR_ALLOWLISTED_TABLES")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("expected RateLimit.MaxRequests=100, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.WindowSeconds != 60 {
		t.Errorf("expected RateLimit.WindowSeconds=60, got %d", cfg.RateLimit.WindowSeconds)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected Breaker.FailureThreshold=5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.RecoverySeconds != 30 {
		t.Errorf("expected Breaker.RecoverySeconds=30, got %d", cfg.Breaker.RecoverySeconds)
	}
	if cfg.LLM.TimeoutSeconds != 30 {
		t.Errorf("expected LLM.TimeoutSeconds=30, got %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.LLM.ConfidenceThreshold != 0.7 {
		t.Errorf("expected LLM.ConfidenceThreshold=0.7, got %v", cfg.LLM.ConfidenceThreshold)
	}
	if cfg.Cache.TTLSeconds != 1800 {
		t.Errorf("expected Cache.TTLSeconds=1800, got %d", cfg.Cache.TTLSeconds)
	}
	if cfg.Cache.MaxValueBytes != 1048576 {
		t.Errorf("expected Cache.MaxValueBytes=1048576, got %d", cfg.Cache.MaxValueBytes)
	}
	if cfg.History.RetentionDays != 30 {
		t.Errorf("expected History.RetentionDays=30, got %d", cfg.History.RetentionDays)
	}
	if cfg.Validator.DefaultLimit != 200 {
		t.Errorf("expected Validator.DefaultLimit=200, got %d", cfg.Validator.DefaultLimit)
	}

	tables := cfg.Validator.AllowlistedTables()
	want := []string{"sales_fact", "job_runs", "audit_log"}
	if len(tables) != len(want) {
		t.Fatalf("expected %d allowlisted tables, got %d (%v)", len(want), len(tables), tables)
	}
	for i, table := range want {
		if tables[i] != table {
			t.Errorf("expected allowlisted_tables[%d]=%s, got %s", i, table, tables[i])
		}
	}
}

func TestLoad_DomainConfigFromEnv(t *testing.T) {
	writeConfig(t, minimalYAML)

	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "250")
	t.Setenv("BREAKER_WINDOW_SECONDS", "120")
	t.Setenv("LLM_VENDOR", "anthropic")
	t.Setenv("VALIDATOR_ALLOWLISTED_TABLES", "sales_fact, job_runs")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RateLimit.MaxRequests != 250 {
		t.Errorf("expected RateLimit.MaxRequests=250 (from env), got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.Breaker.WindowSeconds != 120 {
		t.Errorf("expected Breaker.WindowSeconds=120 (from env), got %d", cfg.Breaker.WindowSeconds)
	}
	if cfg.LLM.Vendor != "anthropic" {
		t.Errorf("expected LLM.Vendor=anthropic (from env), got %s", cfg.LLM.Vendor)
	}

	tables := cfg.Validator.AllowlistedTables()
	if len(tables) != 2 || tables[0] != "sales_fact" || tables[1] != "job_runs" {
		t.Errorf("expected trimmed allowlisted tables [sales_fact job_runs], got %v", tables)
	}
}

// TLS Configuration Tests

func TestLoad_NoTLS(t *testing.T) {
	writeConfig(t, minimalYAML)

	os.Unsetenv("TLS_CERT_PATH")
	os.Unsetenv("TLS_KEY_PATH")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TLSCertPath != "" {
		t.Errorf("expected empty TLSCertPath, got %s", cfg.TLSCertPath)
	}
	if cfg.TLSKeyPath != "" {
		t.Errorf("expected empty TLSKeyPath, got %s", cfg.TLSKeyPath)
	}
}

func TestValidateTLS_BothProvided(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "test-cert.pem")
	keyPath := filepath.Join(tmpDir, "test-key.pem")

	if err := os.WriteFile(certPath, []byte("fake-cert-content"), 0644); err != nil {
		t.Fatalf("failed to write test cert: %v", err)
	}
	if err := os.WriteFile(keyPath, []byte("fake-key-content"), 0644); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}

	writeConfig(t, fmt.Sprintf(`
port: "8443"
env: "test"
tls_cert_path: "%s"
tls_key_path: "%s"
database:
  host: "localhost"
`, certPath, keyPath))

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TLSCertPath != certPath {
		t.Errorf("expected TLSCertPath=%s, got %s", certPath, cfg.TLSCertPath)
	}
	if cfg.TLSKeyPath != keyPath {
		t.Errorf("expected TLSKeyPath=%s, got %s", keyPath, cfg.TLSKeyPath)
	}
}

func TestValidateTLS_OnlyCertProvided(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "test-cert.pem")
	if err := os.WriteFile(certPath, []byte("fake-cert-content"), 0644); err != nil {
		t.Fatalf("failed to write test cert: %v", err)
	}

	writeConfig(t, fmt.Sprintf(`
port: "8443"
env: "test"
tls_cert_path: "%s"
database:
  host: "localhost"
`, certPath))

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error when only cert provided, got nil")
	}
	if !strings.Contains(err.Error(), "both") {
		t.Errorf("expected error to mention 'both', got: %v", err)
	}
}

func TestValidateTLS_OnlyKeyProvided(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "test-key.pem")
	if err := os.WriteFile(keyPath, []byte("fake-key-content"), 0644); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}

	writeConfig(t, fmt.Sprintf(`
port: "8443"
env: "test"
tls_key_path: "%s"
database:
  host: "localhost"
`, keyPath))

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error when only key provided, got nil")
	}
	if !strings.Contains(err.Error(), "both") {
		t.Errorf("expected error to mention 'both', got: %v", err)
	}
}

func TestValidateTLS_CertFileNotFound(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "nonexistent-cert.pem")
	keyPath := filepath.Join(tmpDir, "test-key.pem")
	if err := os.WriteFile(keyPath, []byte("fake-key-content"), 0644); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}

	writeConfig(t, fmt.Sprintf(`
port: "8443"
env: "test"
tls_cert_path: "%s"
tls_key_path: "%s"
database:
  host: "localhost"
`, certPath, keyPath))

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error when cert file not found, got nil")
	}
	if !strings.Contains(err.Error(), "cert") {
		t.Errorf("expected error to mention 'cert', got: %v", err)
	}
}

func TestValidateTLS_KeyFileNotFound(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "test-cert.pem")
	keyPath := filepath.Join(tmpDir, "nonexistent-key.pem")
	if err := os.WriteFile(certPath, []byte("fake-cert-content"), 0644); err != nil {
		t.Fatalf("failed to write test cert: %v", err)
	}

	writeConfig(t, fmt.Sprintf(`
port: "8443"
env: "test"
tls_cert_path: "%s"
tls_key_path: "%s"
database:
  host: "localhost"
`, certPath, keyPath))

	_, err := Load("test-version")
	if err == nil {
		t.Fatal("expected error when key file not found, got nil")
	}
	if !strings.Contains(err.Error(), "key") {
		t.Errorf("expected error to mention 'key', got: %v", err)
	}
}

func TestValidateTLS_TLSFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	certPath := filepath.Join(tmpDir, "test-cert.pem")
	keyPath := filepath.Join(tmpDir, "test-key.pem")
	if err := os.WriteFile(certPath, []byte("fake-cert-content"), 0644); err != nil {
		t.Fatalf("failed to write test cert: %v", err)
	}
	if err := os.WriteFile(keyPath, []byte("fake-key-content"), 0644); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}

	writeConfig(t, minimalYAML)

	t.Setenv("TLS_CERT_PATH", certPath)
	t.Setenv("TLS_KEY_PATH", keyPath)

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TLSCertPath != certPath {
		t.Errorf("expected TLSCertPath=%s (from env), got %s", certPath, cfg.TLSCertPath)
	}
	if cfg.TLSKeyPath != keyPath {
		t.Errorf("expected TLSKeyPath=%s (from env), got %s", keyPath, cfg.TLSKeyPath)
	}
}
