// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package config loads service configuration from defaults, an optional
// YAML file, command-line flags, and environment variables, in that
// order of increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Environment variables consulted for secrets. Secrets never come from
// flags so they stay out of process listings.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvTokenSecret = "KEYFOLD_TOKEN_SECRET"
)

// Config holds the full runtime configuration for the keyfold service.
type Config struct {
	// HTTPAddr is the listen address for the auth API.
	HTTPAddr string `koanf:"http_addr"`

	// MetricsAddr is the listen address for metrics and health probes.
	// Empty disables the observability server.
	MetricsAddr string `koanf:"metrics_addr"`

	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`

	// DatabaseURL is the PostgreSQL connection string. Environment only.
	DatabaseURL string `koanf:"-"`

	// TokenSecret signs and verifies all issued tokens. Environment only.
	TokenSecret string `koanf:"-"`

	// BaseURL is the public URL prefix used to build action links in
	// outbound mail (verify-email, reset-password).
	BaseURL string `koanf:"base_url"`

	// BcryptCost is the work factor for password hashing.
	BcryptCost int `koanf:"bcrypt_cost"`

	// Token lifetimes.
	SessionTTL      time.Duration `koanf:"session_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl"`

	// AutoMigrate applies pending schema migrations on startup.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:        "127.0.0.1:8080",
		MetricsAddr:     "127.0.0.1:9100",
		LogFormat:       "json",
		BaseURL:         "http://localhost:3000",
		BcryptCost:      12,
		SessionTTL:      24 * time.Hour,
		ResetTTL:        time.Hour,
		VerificationTTL: 24 * time.Hour,
	}
}

// Load builds the effective configuration. path is an optional YAML
// file ("" skips it); flags may be nil. Flag names use dashes and map
// to underscored config keys (http-addr -> http_addr).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)
	cfg.TokenSecret = os.Getenv(EnvTokenSecret)

	return cfg, nil
}

// Validate checks that the configuration can run the serve command.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("http_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", EnvDatabaseURL)
	}
	if c.TokenSecret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", EnvTokenSecret)
	}
	if c.SessionTTL <= 0 || c.ResetTTL <= 0 || c.VerificationTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token lifetimes must be positive")
	}
	return nil
}
