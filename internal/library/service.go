// ABOUTME: Library synchronizer: keeps a user's saved agents consistent with versioned graphs
// ABOUTME: Orchestrates thumbnail generation and store-listing adds over the persistence layer

package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atelier-run/atelier/internal/media"
	"github.com/atelier-run/atelier/internal/store"
)

// Service errors
var (
	// ErrSearchTooLong rejects oversized search input before any store call.
	ErrSearchTooLong = errors.New("search query too long")

	// ErrOwnAgent rejects adding a marketplace listing of the user's own agent.
	ErrOwnAgent = errors.New("cannot add own agent from store")
)

const maxSearchLength = 100

// Service implements library and preset operations above the store, plus the
// thumbnail side effect of adding an agent.
type Service struct {
	graphs  store.GraphStore
	library store.LibraryStore
	presets store.PresetStore
	media   media.Store
	images  media.ImageGenerator
	logger  *slog.Logger
}

// NewService creates a library service.
func NewService(graphs store.GraphStore, library store.LibraryStore, presets store.PresetStore, mediaStore media.Store, images media.ImageGenerator) *Service {
	return &Service{
		graphs:  graphs,
		library: library,
		presets: presets,
		media:   mediaStore,
		images:  images,
		logger:  slog.Default().With("component", "library"),
	}
}

// ListAgents returns the user's visible library entries, optionally filtered
// by a case-insensitive substring search on the agent's name or description.
// Search strings over 100 characters are rejected without touching the store.
func (s *Service) ListAgents(ctx context.Context, userID, search string) ([]*store.LibraryAgent, error) {
	search = strings.TrimSpace(search)
	if len(search) > maxSearchLength {
		return nil, ErrSearchTooLong
	}
	agents, err := s.library.ListLibraryAgents(ctx, userID, search)
	if err != nil {
		return nil, fmt.Errorf("listing library agents for user %s: %w", userID, err)
	}
	return agents, nil
}

// GetAgent returns one library entry scoped to its owner.
func (s *Service) GetAgent(ctx context.Context, id, userID string) (*store.LibraryAgent, error) {
	return s.library.GetLibraryAgent(ctx, id, userID)
}

// AddAgent pins a graph version into the user's library. The graph must
// exist. A representative thumbnail is ensured first; when the image step
// fails, the entry is not created and the failure propagates.
func (s *Service) AddAgent(ctx context.Context, userID, agentID string, version int) (*store.LibraryAgent, error) {
	g, err := s.graphs.GetGraph(ctx, agentID, version)
	if err != nil {
		return nil, err
	}

	if err := s.ensureThumbnail(ctx, userID, g); err != nil {
		return nil, fmt.Errorf("ensuring thumbnail for agent %s: %w", agentID, err)
	}

	agent := &store.LibraryAgent{
		UserID:                  userID,
		AgentID:                 g.ID,
		AgentVersion:            g.Version,
		CreatorID:               g.UserID,
		IsCreatedByUser:         false,
		UseGraphIsActiveVersion: true,
	}
	if err := s.library.CreateLibraryAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("creating library agent: %w", err)
	}

	s.logger.Info("added agent to library", "user_id", userID, "agent_id", agentID, "version", version)
	return agent, nil
}

// ensureThumbnail generates and uploads the agent's thumbnail when the media
// store doesn't have one yet.
func (s *Service) ensureThumbnail(ctx context.Context, userID string, g *store.AgentGraph) error {
	filename := fmt.Sprintf("agent_%s.jpeg", g.ID)

	url, err := s.media.CheckExists(ctx, userID, filename)
	if err != nil {
		return err
	}
	if url != "" {
		return nil
	}

	image, err := s.images.Generate(ctx, media.AgentDescriptor{
		Name:        g.Name,
		Description: g.Description,
	})
	if err != nil {
		return err
	}

	url, err = s.media.Upload(ctx, userID, filename, image)
	if err != nil {
		return err
	}

	s.logger.Debug("generated agent thumbnail", "agent_id", g.ID, "url", url)
	return nil
}

// UpdateAgentVersion repoints the user's single auto-update entry for the
// agent to a new version.
func (s *Service) UpdateAgentVersion(ctx context.Context, userID, agentID string, version int) error {
	return s.library.UpdateLibraryAgentVersion(ctx, userID, agentID, version)
}

// UpdateAgent bulk-sets the entry's mutable flags, scoped to the owner.
// Entries belonging to other users are silently unaffected.
func (s *Service) UpdateAgent(ctx context.Context, id, userID string, flags store.LibraryAgentFlags) error {
	return s.library.UpdateLibraryAgentFlags(ctx, id, userID, flags)
}

// DeleteAgentByGraph hard-deletes every library entry of the user referencing
// the graph.
func (s *Service) DeleteAgentByGraph(ctx context.Context, graphID, userID string) error {
	return s.library.DeleteLibraryAgentsByGraph(ctx, graphID, userID)
}

// AddStoreAgent adds a marketplace listing's agent to the user's library.
// Adding one's own agent is rejected, and re-adding the same listing is a
// no-op returning the existing entry.
func (s *Service) AddStoreAgent(ctx context.Context, userID, listingVersionID string) (*store.LibraryAgent, error) {
	listing, err := s.graphs.GetStoreListingVersion(ctx, listingVersionID)
	if err != nil {
		return nil, err
	}

	g, err := s.graphs.GetGraph(ctx, listing.AgentID, listing.AgentVersion)
	if err != nil {
		return nil, err
	}
	if g.UserID == userID {
		return nil, ErrOwnAgent
	}

	existing, err := s.library.FindLibraryAgent(ctx, userID, listing.AgentID, listing.AgentVersion)
	if err == nil {
		s.logger.Debug("store agent already in library", "user_id", userID, "agent_id", listing.AgentID)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking for existing library agent: %w", err)
	}

	agent := &store.LibraryAgent{
		UserID:       userID,
		AgentID:      listing.AgentID,
		AgentVersion: listing.AgentVersion,
		CreatorID:    g.UserID,
	}
	if err := s.library.CreateLibraryAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("creating library agent from listing: %w", err)
	}

	s.logger.Info("added store agent to library",
		"user_id", userID,
		"listing_version_id", listingVersionID,
		"agent_id", listing.AgentID)
	return agent, nil
}

// ListPresets returns one page of the user's presets.
func (s *Service) ListPresets(ctx context.Context, userID string, page, pageSize int) (*store.PresetPage, error) {
	return s.presets.ListPresets(ctx, userID, page, pageSize)
}

// GetPreset returns the preset, or nil when it doesn't exist or belongs to
// another user.
func (s *Service) GetPreset(ctx context.Context, userID, presetID string) (*store.AgentPreset, error) {
	return s.presets.GetPreset(ctx, userID, presetID)
}

// UpsertPreset updates the preset when presetID is non-empty, appending the
// given inputs to its existing ones, and creates a new preset otherwise.
func (s *Service) UpsertPreset(ctx context.Context, userID, presetID string, preset *store.AgentPreset) (*store.AgentPreset, error) {
	if presetID != "" {
		return s.presets.UpdatePreset(ctx, presetID, preset.Name, preset.Description, preset.IsActive, preset.Inputs)
	}

	preset.UserID = userID
	if err := s.presets.CreatePreset(ctx, preset); err != nil {
		return nil, fmt.Errorf("creating preset: %w", err)
	}
	return preset, nil
}

// DeletePreset soft-deletes the preset when owned by the user; other ids are
// silently ignored.
func (s *Service) DeletePreset(ctx context.Context, userID, presetID string) error {
	return s.presets.SoftDeletePreset(ctx, userID, presetID)
}
