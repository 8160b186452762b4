// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers YAML parsing, env var expansion, and required-field checks

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
database:
  path: "/var/lib/atelier/atelier.db"
auth:
  jwt_secret: "test-secret"
encryption:
  passphrase: "test-passphrase"
media:
  dir: "/var/lib/atelier/media"
  base_url: "http://localhost:8080/media"
  image_service_url: "http://localhost:9090/generate"
logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Database.Path != "/var/lib/atelier/atelier.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Media.ImageServiceURL != "http://localhost:9090/generate" {
		t.Errorf("ImageServiceURL = %q", cfg.Media.ImageServiceURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ATELIER_TEST_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/atelier.db"
auth:
  jwt_secret: "${ATELIER_TEST_SECRET}"
encryption:
  passphrase: "p"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "from-env")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing http addr without tailscale",
			content: `
database:
  path: "/tmp/atelier.db"
auth:
  jwt_secret: "s"
encryption:
  passphrase: "p"
`,
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "s"
encryption:
  passphrase: "p"
`,
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/atelier.db"
encryption:
  passphrase: "p"
`,
		},
		{
			name: "missing passphrase",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/atelier.db"
auth:
  jwt_secret: "s"
`,
		},
		{
			name: "tailscale without hostname",
			content: `
tailscale:
  enabled: true
database:
  path: "/tmp/atelier.db"
auth:
  jwt_secret: "s"
encryption:
  passphrase: "p"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() should have returned a validation error")
			}
		})
	}
}

func TestLoad_TailscaleReplacesHTTPAddr(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
tailscale:
  enabled: true
  hostname: "atelier"
database:
  path: "/tmp/atelier.db"
auth:
  jwt_secret: "s"
encryption:
  passphrase: "p"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "atelier" {
		t.Errorf("unexpected tailscale config: %+v", cfg.Tailscale)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should fail for missing file")
	}
}
