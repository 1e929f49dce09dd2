package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath          string `yaml:"db_path"`
	Addr            string `yaml:"addr"`
	MetricsAddr     string `yaml:"metrics_addr"` // empty = /metrics on Addr only
	Dev             bool   `yaml:"dev"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`
	// TenantAddress is the rented property's address the classifier matches against.
	TenantAddress string `yaml:"tenant_address"`
}

// DefaultDir is where the database and config file live unless told otherwise.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".akten"
	}
	return filepath.Join(home, ".akten")
}

func defaults() *Config {
	return &Config{
		DBPath: filepath.Join(DefaultDir(), "akten.db"),
		Addr:   ":8080",
		Model:  "claude-sonnet-4-20250514",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists) and the environment, in that order. A .env file in the working
// directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.DBPath = getEnv("AKTEN_DB", cfg.DBPath)
	cfg.Addr = getEnv("AKTEN_ADDR", cfg.Addr)
	cfg.MetricsAddr = getEnv("AKTEN_METRICS_ADDR", cfg.MetricsAddr)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.Model = getEnv("AKTEN_MODEL", cfg.Model)
	cfg.TenantAddress = getEnv("AKTEN_TENANT_ADDRESS", cfg.TenantAddress)
	if v := os.Getenv("AKTEN_DEV"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("AKTEN_DEV: %w", err)
		}
		cfg.Dev = dev
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
