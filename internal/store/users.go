// ABOUTME: User account persistence: accounts, metadata, integrations blob, notification settings
// ABOUTME: Implements the UserStore interface on SQLiteStore

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUser inserts a new user together with its notification settings row.
// Both writes happen in one transaction so no user ever exists without
// settings. Returns ErrEmailExists when the email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}

	metadataJSON, err := json.Marshal(user.Metadata)
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, metadata, integrations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID,
		user.Email,
		nullString(user.Name),
		string(metadataJSON),
		nullString(user.Integrations),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	if err := insertNotificationSettings(ctx, tx, user.ID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user creation: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "email", user.Email)
	return nil
}

// insertNotificationSettings writes the default settings row for a user.
func insertNotificationSettings(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notification_settings (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, userID, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("inserting notification settings: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by email. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserWhere(ctx, "email = ?", email)
}

func (s *SQLiteStore) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, email, name, metadata, integrations, created_at, updated_at
		FROM users
		WHERE ` + where

	row := s.db.QueryRowContext(ctx, query, arg)
	user, err := s.scanUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// ListUsers returns every user. Used by batch jobs such as the integrations
// migration; listings for the API paginate elsewhere.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, metadata, integrations, created_at, updated_at
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		user, err := s.scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// scanUser scans one user row through the given scan function.
func (s *SQLiteStore) scanUser(scan func(...any) error) (*User, error) {
	var user User
	var name, integrations sql.NullString
	var metadataJSON, createdAt, updatedAt string

	if err := scan(
		&user.ID,
		&user.Email,
		&name,
		&metadataJSON,
		&integrations,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if name.Valid {
		user.Name = name.String
	}
	if integrations.Valid {
		user.Integrations = integrations.String
	}
	if err := json.Unmarshal([]byte(metadataJSON), &user.Metadata); err != nil {
		s.logger.Warn("failed to decode user metadata", "id", user.ID, "error", err)
		user.Metadata = map[string]any{}
	}
	user.CreatedAt = parseTime(s, createdAt, "created_at", user.ID)
	user.UpdatedAt = parseTime(s, updatedAt, "updated_at", user.ID)

	return &user, nil
}

// UpdateUserMetadata replaces the user's metadata document wholesale; there
// are no merge semantics. Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) UpdateUserMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET metadata = ?, updated_at = ? WHERE id = ?
	`, string(metadataJSON), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating user metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated user metadata", "id", id)
	return nil
}

// GetUserIntegrationsBlob returns the user's encrypted integrations blob, or
// an empty string when none has been written yet. Returns ErrNotFound if the
// user doesn't exist.
func (s *SQLiteStore) GetUserIntegrationsBlob(ctx context.Context, id string) (string, error) {
	var blob sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT integrations FROM users WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying user integrations: %w", err)
	}
	if !blob.Valid {
		return "", nil
	}
	return blob.String, nil
}

// SetUserIntegrationsBlob stores the encrypted integrations blob for a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) SetUserIntegrationsBlob(ctx context.Context, id, blob string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET integrations = ?, updated_at = ? WHERE id = ?
	`, nullString(blob), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating user integrations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated user integrations blob", "id", id)
	return nil
}

// EnsureNotificationSettings creates the settings row for a user that
// predates settings creation. No-op when the row already exists.
func (s *SQLiteStore) EnsureNotificationSettings(ctx context.Context, userID string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, now, now)
	if err != nil {
		return fmt.Errorf("ensuring notification settings: %w", err)
	}
	return nil
}

// GetNotificationSettings retrieves the stored settings row for a user.
// Returns ErrNotFound when no row exists; callers fall back to defaults.
func (s *SQLiteStore) GetNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error) {
	query := `
		SELECT user_id,
		       notify_on_agent_run, notify_on_zero_balance, notify_on_low_balance,
		       notify_on_block_execution_failed, notify_on_continuous_agent_error,
		       notify_on_daily_summary, notify_on_weekly_summary, notify_on_monthly_summary,
		       max_emails_per_day, created_at, updated_at
		FROM notification_settings
		WHERE user_id = ?
	`

	var ns NotificationSettings
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&ns.UserID,
		&ns.NotifyOnAgentRun,
		&ns.NotifyOnZeroBalance,
		&ns.NotifyOnLowBalance,
		&ns.NotifyOnBlockExecutionFailed,
		&ns.NotifyOnContinuousAgentError,
		&ns.NotifyOnDailySummary,
		&ns.NotifyOnWeeklySummary,
		&ns.NotifyOnMonthlySummary,
		&ns.MaxEmailsPerDay,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying notification settings: %w", err)
	}

	ns.CreatedAt = parseTime(s, createdAt, "created_at", ns.UserID)
	ns.UpdatedAt = parseTime(s, updatedAt, "updated_at", ns.UserID)
	return &ns, nil
}

// ActiveUserIDsInRange returns distinct ids of users with at least one graph
// execution timestamped inside [start, end].
func (s *SQLiteStore) ActiveUserIDsInRange(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM graph_executions
		WHERE created_at >= ? AND created_at <= ?
	`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("querying active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning active user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating active user ids: %w", err)
	}
	return ids, nil
}
