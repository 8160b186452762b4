// ABOUTME: Library agent persistence: a user's pinned or floating references to agent graphs
// ABOUTME: Implements the LibraryStore interface on SQLiteStore

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const libraryAgentColumns = `
	la.id, la.user_id, la.agent_id, la.agent_version, la.creator_id,
	la.is_created_by_user, la.use_graph_is_active_version,
	la.is_favorite, la.is_archived, la.is_deleted,
	la.created_at, la.updated_at,
	g.name, g.description
`

// ListLibraryAgents returns the user's non-deleted, non-archived library
// entries ordered by most recently updated. A non-empty search filters by
// case-insensitive substring match on the referenced graph's name or
// description. Length validation happens in the library service before the
// store is touched.
func (s *SQLiteStore) ListLibraryAgents(ctx context.Context, userID, search string) ([]*LibraryAgent, error) {
	query := `
		SELECT ` + libraryAgentColumns + `
		FROM library_agents la
		JOIN agent_graphs g ON g.id = la.agent_id AND g.version = la.agent_version
		WHERE la.user_id = ? AND la.is_deleted = 0 AND la.is_archived = 0
	`
	args := []any{userID}

	if search != "" {
		query += ` AND (instr(lower(g.name), lower(?)) > 0 OR instr(lower(g.description), lower(?)) > 0)`
		args = append(args, search, search)
	}

	query += ` ORDER BY la.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying library agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*LibraryAgent
	for rows.Next() {
		agent, err := s.scanLibraryAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning library agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating library agent rows: %w", err)
	}

	s.logger.Debug("listed library agents", "user_id", userID, "count", len(agents), "search", search != "")
	return agents, nil
}

// GetLibraryAgent retrieves one library entry scoped to its owner. An entry
// belonging to another user is reported as ErrNotFound, indistinguishable
// from a missing one.
func (s *SQLiteStore) GetLibraryAgent(ctx context.Context, id, userID string) (*LibraryAgent, error) {
	query := `
		SELECT ` + libraryAgentColumns + `
		FROM library_agents la
		JOIN agent_graphs g ON g.id = la.agent_id AND g.version = la.agent_version
		WHERE la.id = ? AND la.user_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id, userID)
	agent, err := s.scanLibraryAgent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying library agent: %w", err)
	}
	return agent, nil
}

func (s *SQLiteStore) scanLibraryAgent(scan func(...any) error) (*LibraryAgent, error) {
	var agent LibraryAgent
	var creatorID, description sql.NullString
	var createdAt, updatedAt string

	if err := scan(
		&agent.ID,
		&agent.UserID,
		&agent.AgentID,
		&agent.AgentVersion,
		&creatorID,
		&agent.IsCreatedByUser,
		&agent.UseGraphIsActiveVersion,
		&agent.IsFavorite,
		&agent.IsArchived,
		&agent.IsDeleted,
		&createdAt,
		&updatedAt,
		&agent.AgentName,
		&description,
	); err != nil {
		return nil, err
	}

	if creatorID.Valid {
		agent.CreatorID = creatorID.String
	}
	if description.Valid {
		agent.AgentDescription = description.String
	}
	agent.CreatedAt = parseTime(s, createdAt, "created_at", agent.ID)
	agent.UpdatedAt = parseTime(s, updatedAt, "updated_at", agent.ID)
	return &agent, nil
}

// CreateLibraryAgent inserts a library entry. The referenced graph is
// resolved by the caller; the store does not re-check it.
func (s *SQLiteStore) CreateLibraryAgent(ctx context.Context, agent *LibraryAgent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO library_agents (
			id, user_id, agent_id, agent_version, creator_id,
			is_created_by_user, use_graph_is_active_version,
			is_favorite, is_archived, is_deleted,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID,
		agent.UserID,
		agent.AgentID,
		agent.AgentVersion,
		nullString(agent.CreatorID),
		boolToInt(agent.IsCreatedByUser),
		boolToInt(agent.UseGraphIsActiveVersion),
		boolToInt(agent.IsFavorite),
		boolToInt(agent.IsArchived),
		boolToInt(agent.IsDeleted),
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting library agent: %w", err)
	}

	s.logger.Debug("created library agent",
		"id", agent.ID,
		"user_id", agent.UserID,
		"agent_id", agent.AgentID,
		"agent_version", agent.AgentVersion,
	)
	return nil
}

// FindLibraryAgent looks up a user's entry for an exact (agentID, version)
// pair. Returns ErrNotFound when the user has no such entry.
func (s *SQLiteStore) FindLibraryAgent(ctx context.Context, userID, agentID string, version int) (*LibraryAgent, error) {
	query := `
		SELECT ` + libraryAgentColumns + `
		FROM library_agents la
		JOIN agent_graphs g ON g.id = la.agent_id AND g.version = la.agent_version
		WHERE la.user_id = ? AND la.agent_id = ? AND la.agent_version = ?
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, userID, agentID, version)
	agent, err := s.scanLibraryAgent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying library agent: %w", err)
	}
	return agent, nil
}

// UpdateLibraryAgentVersion repoints the user's auto-update entry for
// agentID to a new version. Exactly one entry flagged to track the active
// version must exist; zero or multiple entries fail with ErrAgentNotFound.
// The at-most-one invariant is enforced here by query discipline, not by a
// schema constraint.
func (s *SQLiteStore) UpdateLibraryAgentVersion(ctx context.Context, userID, agentID string, version int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM library_agents
		WHERE user_id = ? AND agent_id = ? AND use_graph_is_active_version = 1
	`, userID, agentID)
	if err != nil {
		return fmt.Errorf("querying auto-update library agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning library agent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating library agent ids: %w", err)
	}

	if len(ids) != 1 {
		s.logger.Warn("version repoint requires exactly one auto-update entry",
			"user_id", userID, "agent_id", agentID, "count", len(ids))
		return ErrAgentNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE library_agents SET agent_version = ?, updated_at = ? WHERE id = ?
	`, version, formatTime(time.Now()), ids[0])
	if err != nil {
		return fmt.Errorf("updating library agent version: %w", err)
	}

	s.logger.Info("repointed library agent version",
		"id", ids[0], "agent_id", agentID, "agent_version", version)
	return nil
}

// UpdateLibraryAgentFlags bulk-sets the mutable flags of a library entry,
// scoped to rows owned by userID. An id belonging to another user matches
// zero rows, which is deliberately not an error.
func (s *SQLiteStore) UpdateLibraryAgentFlags(ctx context.Context, id, userID string, flags LibraryAgentFlags) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE library_agents
		SET use_graph_is_active_version = ?,
		    is_favorite = ?,
		    is_archived = ?,
		    is_deleted = ?,
		    updated_at = ?
		WHERE id = ? AND user_id = ?
	`,
		boolToInt(flags.UseGraphIsActiveVersion),
		boolToInt(flags.IsFavorite),
		boolToInt(flags.IsArchived),
		boolToInt(flags.IsDeleted),
		formatTime(time.Now()),
		id,
		userID,
	)
	if err != nil {
		return fmt.Errorf("updating library agent flags: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("updated library agent flags", "id", id, "user_id", userID, "rows_affected", rowsAffected)
	return nil
}

// DeleteLibraryAgentsByGraph hard-deletes every entry of the user that
// references the graph, across all versions. This is row removal, not the
// soft delete used by the flags update.
func (s *SQLiteStore) DeleteLibraryAgentsByGraph(ctx context.Context, graphID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM library_agents WHERE agent_id = ? AND user_id = ?
	`, graphID, userID)
	if err != nil {
		return fmt.Errorf("deleting library agents: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("deleted library agents", "graph_id", graphID, "user_id", userID, "rows_affected", rowsAffected)
	return nil
}
