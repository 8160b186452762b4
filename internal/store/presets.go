// ABOUTME: Agent preset persistence: saved named input sets for agent graph versions
// ABOUTME: Implements the PresetStore interface on SQLiteStore

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

// ListPresets returns one page of the user's presets with a computed total
// page count. Pages are zero-based: page 0 is the first page.
func (s *SQLiteStore) ListPresets(ctx context.Context, userID string, page, pageSize int) (*PresetPage, error) {
	if page < 0 || pageSize < 1 {
		return nil, fmt.Errorf("invalid pagination: page=%d page_size=%d", page, pageSize)
	}

	var totalItems int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_presets WHERE user_id = ?
	`, userID).Scan(&totalItems)
	if err != nil {
		return nil, fmt.Errorf("counting presets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, agent_version, name, description,
		       is_active, is_deleted, created_at, updated_at
		FROM agent_presets
		WHERE user_id = ?
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`, userID, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("querying presets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var presets []*AgentPreset
	for rows.Next() {
		preset, err := s.scanPreset(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning preset row: %w", err)
		}
		presets = append(presets, preset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating preset rows: %w", err)
	}

	for _, preset := range presets {
		if err := s.loadPresetInputs(ctx, preset); err != nil {
			return nil, err
		}
	}

	return &PresetPage{
		Presets: presets,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  (totalItems + pageSize - 1) / pageSize,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	}, nil
}

// GetPreset retrieves one preset with its inputs. Returns (nil, nil) both
// when the preset doesn't exist and when it belongs to a different user, so
// callers cannot probe for other users' preset ids.
func (s *SQLiteStore) GetPreset(ctx context.Context, userID, presetID string) (*AgentPreset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, agent_version, name, description,
		       is_active, is_deleted, created_at, updated_at
		FROM agent_presets
		WHERE id = ?
	`, presetID)

	preset, err := s.scanPreset(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying preset: %w", err)
	}

	if preset.UserID != userID {
		return nil, nil
	}

	if err := s.loadPresetInputs(ctx, preset); err != nil {
		return nil, err
	}
	return preset, nil
}

func (s *SQLiteStore) scanPreset(scan func(...any) error) (*AgentPreset, error) {
	var preset AgentPreset
	var description sql.NullString
	var createdAt, updatedAt string

	if err := scan(
		&preset.ID,
		&preset.UserID,
		&preset.AgentID,
		&preset.AgentVersion,
		&preset.Name,
		&description,
		&preset.IsActive,
		&preset.IsDeleted,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if description.Valid {
		preset.Description = description.String
	}
	preset.CreatedAt = parseTime(s, createdAt, "created_at", preset.ID)
	preset.UpdatedAt = parseTime(s, updatedAt, "updated_at", preset.ID)
	return &preset, nil
}

// loadPresetInputs attaches the preset's input rows in insertion order.
// created_at only has second precision, so rowid is the order of record.
func (s *SQLiteStore) loadPresetInputs(ctx context.Context, preset *AgentPreset) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, preset_id, name, data, created_at
		FROM preset_inputs
		WHERE preset_id = ?
		ORDER BY rowid ASC
	`, preset.ID)
	if err != nil {
		return fmt.Errorf("querying preset inputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var input PresetInput
		var dataJSON, createdAt string
		if err := rows.Scan(&input.ID, &input.PresetID, &input.Name, &dataJSON, &createdAt); err != nil {
			return fmt.Errorf("scanning preset input row: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &input.Data); err != nil {
			s.logger.Warn("failed to decode preset input data", "id", input.ID, "error", err)
		}
		input.CreatedAt = parseTime(s, createdAt, "created_at", input.ID)
		preset.Inputs = append(preset.Inputs, input)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating preset input rows: %w", err)
	}
	return nil
}

// CreatePreset inserts a preset together with its initial inputs in one
// transaction.
func (s *SQLiteStore) CreatePreset(ctx context.Context, preset *AgentPreset) error {
	if preset.ID == "" {
		preset.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if preset.CreatedAt.IsZero() {
		preset.CreatedAt = now
	}
	preset.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_presets (
			id, user_id, agent_id, agent_version, name, description,
			is_active, is_deleted, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		preset.ID,
		preset.UserID,
		preset.AgentID,
		preset.AgentVersion,
		preset.Name,
		nullString(preset.Description),
		boolToInt(preset.IsActive),
		boolToInt(preset.IsDeleted),
		formatTime(preset.CreatedAt),
		formatTime(preset.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting preset: %w", err)
	}

	for i := range preset.Inputs {
		if err := insertPresetInput(ctx, tx, preset.ID, &preset.Inputs[i], now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing preset creation: %w", err)
	}

	s.logger.Debug("created preset", "id", preset.ID, "user_id", preset.UserID, "inputs", len(preset.Inputs))
	return nil
}

func insertPresetInput(ctx context.Context, tx *sql.Tx, presetID string, input *PresetInput, now time.Time) error {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	input.PresetID = presetID
	if input.CreatedAt.IsZero() {
		input.CreatedAt = now
	}

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		return fmt.Errorf("encoding preset input %q: %w", input.Name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO preset_inputs (id, preset_id, name, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, input.ID, presetID, input.Name, string(dataJSON), formatTime(input.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting preset input: %w", err)
	}
	return nil
}

// UpdatePreset sets the preset's name, description and active flag, and
// appends the given inputs. Existing input rows are never replaced or
// removed; the merge is additive only. Returns ErrNotFound when the preset
// id doesn't exist.
func (s *SQLiteStore) UpdatePreset(ctx context.Context, presetID, name, description string, isActive bool, inputs []PresetInput) (*AgentPreset, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE agent_presets
		SET name = ?, description = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, name, nullString(description), boolToInt(isActive), formatTime(now), presetID)
	if err != nil {
		return nil, fmt.Errorf("updating preset: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	for i := range inputs {
		if err := insertPresetInput(ctx, tx, presetID, &inputs[i], now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing preset update: %w", err)
	}

	s.logger.Debug("updated preset", "id", presetID, "appended_inputs", len(inputs))

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, agent_version, name, description,
		       is_active, is_deleted, created_at, updated_at
		FROM agent_presets
		WHERE id = ?
	`, presetID)
	preset, err := s.scanPreset(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("reloading preset: %w", err)
	}
	if err := s.loadPresetInputs(ctx, preset); err != nil {
		return nil, err
	}
	return preset, nil
}

// SoftDeletePreset marks a preset deleted, scoped by ownership. Ids that
// don't exist or belong to another user match zero rows and are absorbed
// silently.
func (s *SQLiteStore) SoftDeletePreset(ctx context.Context, userID, presetID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agent_presets SET is_deleted = 1, updated_at = ? WHERE id = ? AND user_id = ?
	`, formatTime(time.Now()), presetID, userID)
	if err != nil {
		return fmt.Errorf("deleting preset: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("soft-deleted preset", "id", presetID, "user_id", userID, "rows_affected", rowsAffected)
	return nil
}
