// ABOUTME: Entry point for the atelier backend server
// ABOUTME: Subcommands for serving the API, config setup, and the integrations migration

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"tailscale.com/tsnet"

	"github.com/atelier-run/atelier/internal/api"
	"github.com/atelier-run/atelier/internal/auth"
	"github.com/atelier-run/atelier/internal/config"
	"github.com/atelier-run/atelier/internal/library"
	"github.com/atelier-run/atelier/internal/media"
	"github.com/atelier-run/atelier/internal/secrets"
	"github.com/atelier-run/atelier/internal/store"
	"github.com/atelier-run/atelier/internal/user"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _       _ _
  __ _| |_ ___| (_) ___ _ __
 / _' | __/ _ \ | |/ _ \ '__|
| (_| | ||  __/ | |  __/ |
 \__,_|\__\___|_|_|\___|_|
`

// getConfigPath returns the path to the server config file.
// Priority: ATELIER_CONFIG env var > XDG_CONFIG_HOME/atelier/server.yaml > ~/.config/atelier/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ATELIER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "atelier", "server.yaml")
}

// getDataPath returns the path to the atelier data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "atelier")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: atelier-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the API server")
		fmt.Println("  init                   Create a config file with generated secrets")
		fmt.Println("  migrate-integrations   Move legacy metadata credentials into the encrypted store")
		fmt.Println("  health                 Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "migrate-integrations":
		err = runMigrate(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Println(cfg.Tailscale.Hostname)
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	cryptor, err := secrets.NewCryptor(cfg.Encryption.Passphrase)
	if err != nil {
		return fmt.Errorf("creating cryptor: %w", err)
	}

	mediaDir := cfg.Media.Dir
	if mediaDir == "" {
		mediaDir = filepath.Join(getDataPath(), "media")
	}
	mediaStore, err := media.NewFSStore(mediaDir, cfg.Media.BaseURL)
	if err != nil {
		return fmt.Errorf("creating media store: %w", err)
	}

	users := user.NewService(s, cryptor)
	lib := library.NewService(s, s, s, mediaStore, media.NewHTTPImageGenerator(cfg.Media.ImageServiceURL))
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	handler := api.NewServer(users, lib, verifier).Handler()

	ln, cleanup, err := listen(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving http", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// listen creates the server listener, either a plain TCP socket or a tsnet
// node when tailscale is enabled.
func listen(ctx context.Context, cfg *config.Config, logger *slog.Logger) (net.Listener, func(), error) {
	if !cfg.Tailscale.Enabled {
		ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on %s: %w", cfg.Server.HTTPAddr, err)
		}
		return ln, func() {}, nil
	}

	stateDir := cfg.Tailscale.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(getDataPath(), "tsnet")
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	ts := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Tailscale.Ephemeral,
		AuthKey:   cfg.Tailscale.AuthKey,
	}

	logger.Info("starting tailscale node", "hostname", cfg.Tailscale.Hostname, "state_dir", stateDir)
	if _, err := ts.Up(ctx); err != nil {
		_ = ts.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		_ = ts.Close()
		return nil, nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, func() { _ = ts.Close() }, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// runInit writes a config file with freshly generated secrets. Existing
// config files are never overwritten.
func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}
	passphrase, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating passphrase: %w", err)
	}

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "atelier.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# atelier-server configuration
# Generated by atelier-server init

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

encryption:
  passphrase: "%s"

media:
  dir: "%s"
  base_url: "http://localhost:8080/media"
  image_service_url: ""

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret, passphrase, filepath.Join(dataPath, "media"))

	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("To start the server:")
	fmt.Println("  atelier-server serve")
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// runMigrate moves legacy integration credentials out of user metadata into
// the encrypted store. Safe to re-run.
func runMigrate(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	cryptor, err := secrets.NewCryptor(cfg.Encryption.Passphrase)
	if err != nil {
		return fmt.Errorf("creating cryptor: %w", err)
	}

	migrated, err := user.NewService(s, cryptor).MigrateUserIntegrations(ctx)
	if err != nil {
		return fmt.Errorf("migrating integrations: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Migrated %d user(s)\n", migrated)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
