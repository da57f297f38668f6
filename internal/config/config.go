// Package config loads participant and dev-server settings.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional YAML file, a .env file, then SYNAP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/synap-respond/internal/session"
	"github.com/soaringjerry/synap-respond/internal/utils"
)

type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory sqlite badger"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

type Config struct {
	BaseURL         string            `yaml:"base_url" validate:"required,url"`
	Endpoints       session.Endpoints `yaml:"endpoints"`
	Storage         StorageConfig     `yaml:"storage"`
	HTTPTimeout     time.Duration     `yaml:"http_timeout" validate:"gt=0"`
	LedgerRetention time.Duration     `yaml:"ledger_retention" validate:"gt=0"`
	Log             LogConfig         `yaml:"log"`

	// dev server
	Addr          string        `yaml:"addr" validate:"required"`
	SessionTTL    time.Duration `yaml:"session_ttl" validate:"gt=0"`
	ReceiptSecret string        `yaml:"receipt_secret"`
	CORSOrigins   []string      `yaml:"cors_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:         "http://localhost:8080",
		Endpoints:       session.DefaultEndpoints(),
		Storage:         StorageConfig{Backend: "sqlite", Path: defaultDataDir()},
		HTTPTimeout:     15 * time.Second,
		LedgerRetention: 30 * 24 * time.Hour,
		Log:             LogConfig{Level: "info", Format: "auto"},
		Addr:            ":8080",
		SessionTTL:      24 * time.Hour,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".synap-respond"
	}
	return filepath.Join(home, ".synap-respond")
}

// Load reads path (optional) and ./.env.
func Load(path string) (*Config, error) {
	return LoadFrom(path, ".env")
}

// LoadFrom is Load with an explicit .env location. A missing .env is not an
// error; a missing YAML file is, when path is set.
func LoadFrom(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	applyEnv(cfg)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.BaseURL = utils.SafeEnv("SYNAP_BASE_URL", cfg.BaseURL)
	cfg.Endpoints.Create = utils.SafeEnv("SYNAP_ENDPOINT_CREATE", cfg.Endpoints.Create)
	cfg.Endpoints.Submit = utils.SafeEnv("SYNAP_ENDPOINT_SUBMIT", cfg.Endpoints.Submit)
	cfg.Endpoints.Progress = utils.SafeEnv("SYNAP_ENDPOINT_PROGRESS", cfg.Endpoints.Progress)
	cfg.Endpoints.Complete = utils.SafeEnv("SYNAP_ENDPOINT_COMPLETE", cfg.Endpoints.Complete)
	cfg.Storage.Backend = strings.ToLower(utils.SafeEnv("SYNAP_STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.Storage.Path = utils.SafeEnv("SYNAP_STORAGE_PATH", cfg.Storage.Path)
	cfg.HTTPTimeout = utils.SafeEnvDuration("SYNAP_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.LedgerRetention = utils.SafeEnvDuration("SYNAP_LEDGER_RETENTION", cfg.LedgerRetention)
	cfg.Log.Level = utils.SafeEnv("SYNAP_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = utils.SafeEnv("SYNAP_LOG_FORMAT", cfg.Log.Format)
	cfg.Addr = utils.SafeEnv("SYNAP_ADDR", cfg.Addr)
	cfg.SessionTTL = utils.SafeEnvDuration("SYNAP_SESSION_TTL", cfg.SessionTTL)
	cfg.ReceiptSecret = utils.SafeEnv("SYNAP_RECEIPT_SECRET", cfg.ReceiptSecret)
	if v := utils.SafeEnv("SYNAP_CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid field by its YAML path.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("config: %w", err)
}
