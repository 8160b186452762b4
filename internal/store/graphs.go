// ABOUTME: Agent graph, store listing and execution record persistence
// ABOUTME: Implements the GraphStore interface on SQLiteStore

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateGraph inserts one version of an agent graph. Versions are immutable;
// publishing a change means inserting a new (id, version) row.
func (s *SQLiteStore) CreateGraph(ctx context.Context, graph *AgentGraph) error {
	if graph.ID == "" {
		graph.ID = uuid.New().String()
	}
	if graph.Version == 0 {
		graph.Version = 1
	}
	if graph.CreatedAt.IsZero() {
		graph.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_graphs (id, version, name, description, user_id, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		graph.ID,
		graph.Version,
		graph.Name,
		nullString(graph.Description),
		graph.UserID,
		boolToInt(graph.IsActive),
		formatTime(graph.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent graph: %w", err)
	}

	s.logger.Debug("created agent graph", "id", graph.ID, "version", graph.Version)
	return nil
}

// GetGraph retrieves one agent graph version by its composite key.
// Returns ErrAgentNotFound if the (id, version) pair doesn't exist.
func (s *SQLiteStore) GetGraph(ctx context.Context, id string, version int) (*AgentGraph, error) {
	query := `
		SELECT id, version, name, description, user_id, is_active, created_at
		FROM agent_graphs
		WHERE id = ? AND version = ?
	`

	var graph AgentGraph
	var description sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, id, version).Scan(
		&graph.ID,
		&graph.Version,
		&graph.Name,
		&description,
		&graph.UserID,
		&graph.IsActive,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent graph: %w", err)
	}

	if description.Valid {
		graph.Description = description.String
	}
	graph.CreatedAt = parseTime(s, createdAt, "created_at", graph.ID)
	return &graph, nil
}

// CreateStoreListingVersion records the graph version a marketplace listing
// was published from.
func (s *SQLiteStore) CreateStoreListingVersion(ctx context.Context, listing *StoreListingVersion) error {
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_listing_versions (id, agent_id, agent_version, created_at)
		VALUES (?, ?, ?, ?)
	`, listing.ID, listing.AgentID, listing.AgentVersion, formatTime(listing.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting store listing version: %w", err)
	}
	return nil
}

// GetStoreListingVersion retrieves a marketplace listing version by id.
// Returns ErrAgentNotFound if it doesn't exist.
func (s *SQLiteStore) GetStoreListingVersion(ctx context.Context, id string) (*StoreListingVersion, error) {
	var listing StoreListingVersion
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, agent_version, created_at
		FROM store_listing_versions
		WHERE id = ?
	`, id).Scan(&listing.ID, &listing.AgentID, &listing.AgentVersion, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying store listing version: %w", err)
	}

	listing.CreatedAt = parseTime(s, createdAt, "created_at", listing.ID)
	return &listing, nil
}

// RecordExecution stores one graph execution record for activity tracking.
func (s *SQLiteStore) RecordExecution(ctx context.Context, exec *GraphExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_executions (id, user_id, agent_id, agent_version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, exec.ID, exec.UserID, exec.AgentID, exec.AgentVersion, formatTime(exec.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting graph execution: %w", err)
	}
	return nil
}
