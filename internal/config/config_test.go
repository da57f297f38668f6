package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom("", "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "/api/sessions", cfg.Endpoints.Create)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 30*24*time.Hour, cfg.LedgerRetention)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "respond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://survey.example/
endpoints:
  submit: /v2/responses
storage:
  backend: badger
  path: /tmp/respond
http_timeout: 3s
log:
  level: debug
  format: json
`), 0o644))

	t.Setenv("SYNAP_STORAGE_BACKEND", "MEMORY")
	t.Setenv("SYNAP_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadFrom(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://survey.example", cfg.BaseURL)
	assert.Equal(t, "/v2/responses", cfg.Endpoints.Submit)
	assert.Equal(t, "/api/progress", cfg.Endpoints.Progress)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/respond", cfg.Storage.Path)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestDotenv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("SYNAP_SESSION_TTL=2h\nSYNAP_RECEIPT_SECRET=from-dotenv\n"), 0o644))
	t.Setenv("SYNAP_RECEIPT_SECRET", "from-process")
	t.Cleanup(func() { os.Unsetenv("SYNAP_SESSION_TTL") })

	cfg, err := LoadFrom("", env)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "from-process", cfg.ReceiptSecret)
}

func TestValidation(t *testing.T) {
	t.Setenv("SYNAP_STORAGE_BACKEND", "redis")
	_, err := LoadFrom("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backend")

	t.Setenv("SYNAP_STORAGE_BACKEND", "memory")
	t.Setenv("SYNAP_BASE_URL", "not a url")
	_, err = LoadFrom("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseURL")
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
}
