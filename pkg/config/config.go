// Package config loads the application configuration from a YAML file, with
// environment-variable overrides for deployment. The OAuth client secret can
// live in the file, in the environment, or in the OS credential store.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvListen       = "WALLCHARGE_LISTEN"
	EnvPublicURL    = "WALLCHARGE_PUBLIC_URL"
	EnvSessionsDir  = "WALLCHARGE_SESSIONS_DIR"
	EnvClientID     = "WALLCHARGE_CLIENT_ID"
	EnvClientSecret = "WALLCHARGE_CLIENT_SECRET"
	EnvAudience     = "WALLCHARGE_AUDIENCE"
	EnvLogLevel     = "WALLCHARGE_LOG_LEVEL"
)

const defaultAudience = "https://fleet-api.prd.na.vn.cloud.tesla.com"

type OAuth struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// SecretName, when set and ClientSecret is empty, names the OS
	// credential store entry holding the client secret.
	SecretName string `yaml:"secret_name"`
	// Audience is the Fleet API origin tokens are requested for.
	Audience string `yaml:"audience"`
}

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// PublicURL is the externally visible base URL, used to build the OAuth
	// redirect URI.
	PublicURL string `yaml:"public_url"`
	// SessionsDir roots the per-user state files and the application-level
	// state file.
	SessionsDir string `yaml:"sessions_dir"`
	// PublicKeyFile is the partner public key served under /.well-known/.
	PublicKeyFile string `yaml:"public_key_file"`
	// Domain is the application domain submitted during partner registration.
	Domain   string `yaml:"domain"`
	LogLevel string `yaml:"log_level"`
	OAuth    OAuth  `yaml:"oauth"`
}

func override(target *string, env string) {
	if value := os.Getenv(env); value != "" {
		*target = value
	}
}

// Load reads the YAML file at path (optional: an empty path skips the file)
// and applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	config := &Config{
		Listen:      "localhost:8080",
		SessionsDir: "sessions",
		LogLevel:    "info",
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	override(&config.Listen, EnvListen)
	override(&config.PublicURL, EnvPublicURL)
	override(&config.SessionsDir, EnvSessionsDir)
	override(&config.OAuth.ClientID, EnvClientID)
	override(&config.OAuth.ClientSecret, EnvClientSecret)
	override(&config.OAuth.Audience, EnvAudience)
	override(&config.LogLevel, EnvLogLevel)

	if config.OAuth.Audience == "" {
		config.OAuth.Audience = defaultAudience
	}
	return config, nil
}

// Validate checks the fields every deployment needs.
func (c *Config) Validate() error {
	if c.OAuth.ClientID == "" {
		return fmt.Errorf("oauth client_id is required")
	}
	if c.PublicURL == "" {
		return fmt.Errorf("public_url is required")
	}
	return nil
}
