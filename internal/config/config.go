// Package config loads tally settings from a YAML file, .env files, and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// Environment variables that override file settings.
const (
	EnvDatabasePath = "TALLY_DATABASE_PATH"
	EnvLogLevel     = "TALLY_LOG_LEVEL"
	EnvPDFToText    = "TALLY_PDFTOTEXT"
	EnvAddr         = "TALLY_ADDR"
	EnvProjectID    = "GOOGLE_CLOUD_PROJECT"
	EnvCredentials  = "GOOGLE_APPLICATION_CREDENTIALS"
)

// Preview holds the default preview sizes.
type Preview struct {
	Tabular     int `yaml:"tabular"`
	FixedLayout int `yaml:"fixed_layout"`
	Document    int `yaml:"document"`
}

// Config is the merged configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`
	// PDFToText is the pdftotext binary; empty means look it up on PATH.
	PDFToText string  `yaml:"pdftotext"`
	Preview   Preview `yaml:"preview"`

	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ProjectID enables the Firestore mirror and token verification.
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`

	// RulesFile seeds category rules; empty means the built-in set.
	RulesFile string `yaml:"rules_file"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	dataDir, err := dataHome()
	if err != nil {
		return nil, err
	}
	return &Config{
		DatabasePath:   filepath.Join(dataDir, "tally", "data.db"),
		LogLevel:       "info",
		Preview:        Preview{Tabular: 10, FixedLayout: 20, Document: 20},
		Addr:           ":8080",
		AllowedOrigins: []string{"*"},
	}, nil
}

// DefaultPath is $XDG_CONFIG_HOME/tally/config.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "tally", "config.yaml"), nil
}

func dataHome() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// Load reads the config file at path, or the default path when path is
// empty. A missing default file is not an error; a missing explicit one is.
// A .env file in the working directory is loaded first without replacing
// variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config %s: %v", domain.ErrValidation, path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.DatabasePath, EnvDatabasePath)
	override(&c.LogLevel, EnvLogLevel)
	override(&c.PDFToText, EnvPDFToText)
	override(&c.Addr, EnvAddr)
	override(&c.ProjectID, EnvProjectID)
	override(&c.CredentialsFile, EnvCredentials)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("%w: database_path cannot be empty", domain.ErrValidation)
	}
	if c.Preview.Tabular < 0 || c.Preview.FixedLayout < 0 || c.Preview.Document < 0 {
		return fmt.Errorf("%w: preview sizes must not be negative", domain.ErrValidation)
	}
	return nil
}
