// ABOUTME: SQLite implementation of the store interfaces using modernc.org/sqlite
// ABOUTME: Handles schema creation, WAL mode, and shared scan/format helpers

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the store interfaces using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ UserStore    = (*SQLiteStore)(nil)
	_ GraphStore   = (*SQLiteStore)(nil)
	_ LibraryStore = (*SQLiteStore)(nil)
	_ PresetStore  = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			integrations TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notification_settings (
			user_id TEXT PRIMARY KEY,
			notify_on_agent_run INTEGER NOT NULL DEFAULT 1,
			notify_on_zero_balance INTEGER NOT NULL DEFAULT 1,
			notify_on_low_balance INTEGER NOT NULL DEFAULT 1,
			notify_on_block_execution_failed INTEGER NOT NULL DEFAULT 1,
			notify_on_continuous_agent_error INTEGER NOT NULL DEFAULT 1,
			notify_on_daily_summary INTEGER NOT NULL DEFAULT 1,
			notify_on_weekly_summary INTEGER NOT NULL DEFAULT 1,
			notify_on_monthly_summary INTEGER NOT NULL DEFAULT 1,
			max_emails_per_day INTEGER NOT NULL DEFAULT 3,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS agent_graphs (
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			user_id TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (id, version)
		);

		CREATE TABLE IF NOT EXISTS library_agents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_version INTEGER NOT NULL,
			creator_id TEXT,
			is_created_by_user INTEGER NOT NULL DEFAULT 0,
			use_graph_is_active_version INTEGER NOT NULL DEFAULT 0,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			is_archived INTEGER NOT NULL DEFAULT 0,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_library_agents_user
			ON library_agents(user_id, updated_at);

		CREATE INDEX IF NOT EXISTS idx_library_agents_user_agent
			ON library_agents(user_id, agent_id);

		CREATE TABLE IF NOT EXISTS agent_presets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_version INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_presets_user
			ON agent_presets(user_id);

		CREATE TABLE IF NOT EXISTS preset_inputs (
			id TEXT PRIMARY KEY,
			preset_id TEXT NOT NULL,
			name TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (preset_id) REFERENCES agent_presets(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_preset_inputs_preset
			ON preset_inputs(preset_id);

		CREATE TABLE IF NOT EXISTS store_listing_versions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			agent_version INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS graph_executions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_version INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_graph_executions_user_created
			ON graph_executions(user_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// formatTime renders a timestamp the way every table stores it.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a stored timestamp, logging rather than failing on
// malformed values so a single bad row doesn't poison a listing.
func parseTime(s *SQLiteStore, value, column, id string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		s.logger.Warn("failed to parse stored timestamp", "column", column, "id", id, "error", err)
		return time.Time{}
	}
	return parsed
}

// boolToInt converts a bool to the 0/1 representation used in the schema.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
