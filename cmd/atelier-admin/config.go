// ABOUTME: Configuration loading for the atelier admin CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type AuthConfig struct {
	Token string `toml:"token"`
}

// configPath resolves the admin config location.
// Priority: ATELIER_ADMIN_CONFIG env var > XDG_CONFIG_HOME/atelier/admin.toml > ~/.config/atelier/admin.toml
func configPath() string {
	if envPath := os.Getenv("ATELIER_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "atelier", "admin.toml")
}

// loadConfig reads the TOML config, expanding environment variables. Missing
// files yield defaults so environment variables alone can configure the CLI.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{URL: "http://localhost:8080"},
	}

	path := configPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over the config file.
func applyEnvOverrides(cfg *Config) {
	if serverURL := os.Getenv("ATELIER_SERVER_URL"); serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if token := os.Getenv("ATELIER_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	return nil
}
