// ABOUTME: HTTP API handlers for user accounts, the agent library, and presets
// ABOUTME: JSON request/response types and their mapping onto the services

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"

	"github.com/atelier-run/atelier/internal/store"
	"github.com/atelier-run/atelier/internal/user"
)

// UserResponse is the JSON response for GET /api/me.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// NotificationPreferenceResponse is the JSON response for GET /api/me/notifications.
type NotificationPreferenceResponse struct {
	Email           string          `json:"email"`
	Preferences     map[string]bool `json:"preferences"`
	DailyLimit      int             `json:"daily_limit"`
	EmailsSentToday int             `json:"emails_sent_today"`
}

// LibraryAgentResponse is the JSON shape of one library entry. The rendered
// description is only populated on the detail endpoint.
type LibraryAgentResponse struct {
	ID                      string `json:"id"`
	AgentID                 string `json:"agent_id"`
	AgentVersion            int    `json:"agent_version"`
	CreatorID               string `json:"creator_id"`
	Name                    string `json:"name"`
	Description             string `json:"description,omitempty"`
	DescriptionHTML         string `json:"description_html,omitempty"`
	IsCreatedByUser         bool   `json:"is_created_by_user"`
	UseGraphIsActiveVersion bool   `json:"use_graph_is_active_version"`
	IsFavorite              bool   `json:"is_favorite"`
	IsArchived              bool   `json:"is_archived"`
	UpdatedAt               string `json:"updated_at"`
}

// AddAgentRequest is the JSON request body for POST /api/library/agents.
type AddAgentRequest struct {
	AgentID      string `json:"agent_id"`
	AgentVersion int    `json:"agent_version"`
}

// UpdateAgentRequest is the JSON request body for PUT /api/library/agents/{id}.
// All four flags are set together.
type UpdateAgentRequest struct {
	UseGraphIsActiveVersion bool `json:"use_graph_is_active_version"`
	IsFavorite              bool `json:"is_favorite"`
	IsArchived              bool `json:"is_archived"`
	IsDeleted               bool `json:"is_deleted"`
}

// UpdateAgentVersionRequest is the JSON request body for PUT /api/library/version.
type UpdateAgentVersionRequest struct {
	AgentID      string `json:"agent_id"`
	AgentVersion int    `json:"agent_version"`
}

// AddStoreAgentRequest is the JSON request body for POST /api/library/store.
type AddStoreAgentRequest struct {
	StoreListingVersionID string `json:"store_listing_version_id"`
}

// PresetInputRequest is one named input value in a preset payload.
type PresetInputRequest struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// PresetRequest is the JSON request body for creating or updating a preset.
type PresetRequest struct {
	AgentID      string               `json:"agent_id,omitempty"`
	AgentVersion int                  `json:"agent_version,omitempty"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	IsActive     bool                 `json:"is_active"`
	Inputs       []PresetInputRequest `json:"inputs,omitempty"`
}

// PresetResponse is the JSON shape of one preset.
type PresetResponse struct {
	ID           string               `json:"id"`
	AgentID      string               `json:"agent_id"`
	AgentVersion int                  `json:"agent_version"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	IsActive     bool                 `json:"is_active"`
	Inputs       []PresetInputRequest `json:"inputs"`
}

// PresetListResponse is the JSON response for GET /api/presets.
type PresetListResponse struct {
	Presets    []PresetResponse `json:"presets"`
	Pagination store.Pagination `json:"pagination"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, UserResponse{ID: u.ID, Email: u.Email, Name: u.Name})
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	metadata, err := s.users.GetMetadata(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metadata)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var metadata map[string]any
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.users.UpdateMetadata(r.Context(), u.ID, metadata); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metadata)
}

func (s *Server) handleGetIntegrations(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	integrations, err := s.users.GetIntegrations(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, integrations)
}

func (s *Server) handleUpdateIntegrations(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var integrations user.UserIntegrations
	if err := json.NewDecoder(r.Body).Decode(&integrations); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.users.UpdateIntegrations(r.Context(), u.ID, &integrations); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &integrations)
}

func (s *Server) handleNotificationPreference(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pref, err := s.users.NotificationPreference(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	preferences := make(map[string]bool, len(pref.Preferences))
	for kind, enabled := range pref.Preferences {
		preferences[string(kind)] = enabled
	}
	s.writeJSON(w, http.StatusOK, NotificationPreferenceResponse{
		Email:           pref.Email,
		Preferences:     preferences,
		DailyLimit:      pref.DailyLimit,
		EmailsSentToday: pref.EmailsSentToday,
	})
}

// libraryAgentResponse converts a store entity into its JSON shape. The
// markdown description is rendered to HTML only for detail views.
func libraryAgentResponse(agent *store.LibraryAgent, detail bool) LibraryAgentResponse {
	resp := LibraryAgentResponse{
		ID:                      agent.ID,
		AgentID:                 agent.AgentID,
		AgentVersion:            agent.AgentVersion,
		CreatorID:               agent.CreatorID,
		Name:                    agent.AgentName,
		Description:             agent.AgentDescription,
		IsCreatedByUser:         agent.IsCreatedByUser,
		UseGraphIsActiveVersion: agent.UseGraphIsActiveVersion,
		IsFavorite:              agent.IsFavorite,
		IsArchived:              agent.IsArchived,
		UpdatedAt:               agent.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if detail && agent.AgentDescription != "" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(agent.AgentDescription), &buf); err == nil {
			resp.DescriptionHTML = buf.String()
		}
	}
	return resp
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	agents, err := s.library.ListAgents(r.Context(), u.ID, r.URL.Query().Get("search"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	response := make([]LibraryAgentResponse, 0, len(agents))
	for _, agent := range agents {
		response = append(response, libraryAgentResponse(agent, false))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req AddAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	agent, err := s.library.AddAgent(r.Context(), u.ID, req.AgentID, req.AgentVersion)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, libraryAgentResponse(agent, false))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	agent, err := s.library.GetAgent(r.Context(), r.PathValue("id"), u.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, libraryAgentResponse(agent, true))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	err = s.library.UpdateAgent(r.Context(), r.PathValue("id"), u.ID, store.LibraryAgentFlags{
		UseGraphIsActiveVersion: req.UseGraphIsActiveVersion,
		IsFavorite:              req.IsFavorite,
		IsArchived:              req.IsArchived,
		IsDeleted:               req.IsDeleted,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateAgentVersion(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req UpdateAgentVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := s.library.UpdateAgentVersion(r.Context(), u.ID, req.AgentID, req.AgentVersion); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAgentsByGraph(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.library.DeleteAgentByGraph(r.Context(), r.PathValue("graphID"), u.ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddStoreAgent(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req AddStoreAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StoreListingVersionID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	agent, err := s.library.AddStoreAgent(r.Context(), u.ID, req.StoreListingVersionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, libraryAgentResponse(agent, false))
}

func presetResponse(preset *store.AgentPreset) PresetResponse {
	inputs := make([]PresetInputRequest, 0, len(preset.Inputs))
	for _, input := range preset.Inputs {
		inputs = append(inputs, PresetInputRequest{Name: input.Name, Data: input.Data})
	}
	return PresetResponse{
		ID:           preset.ID,
		AgentID:      preset.AgentID,
		AgentVersion: preset.AgentVersion,
		Name:         preset.Name,
		Description:  preset.Description,
		IsActive:     preset.IsActive,
		Inputs:       inputs,
	}
}

func presetInputs(inputs []PresetInputRequest) []store.PresetInput {
	converted := make([]store.PresetInput, 0, len(inputs))
	for _, input := range inputs {
		converted = append(converted, store.PresetInput{Name: input.Name, Data: input.Data})
	}
	return converted
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	page := 0
	pageSize := 10
	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid page"})
			return
		}
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid page_size"})
			return
		}
	}

	result, err := s.library.ListPresets(r.Context(), u.ID, page, pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}

	presets := make([]PresetResponse, 0, len(result.Presets))
	for _, preset := range result.Presets {
		presets = append(presets, presetResponse(preset))
	}
	s.writeJSON(w, http.StatusOK, PresetListResponse{Presets: presets, Pagination: result.Pagination})
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.AgentID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	preset, err := s.library.UpsertPreset(r.Context(), u.ID, "", &store.AgentPreset{
		AgentID:      req.AgentID,
		AgentVersion: req.AgentVersion,
		Name:         req.Name,
		Description:  req.Description,
		IsActive:     req.IsActive,
		Inputs:       presetInputs(req.Inputs),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, presetResponse(preset))
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	preset, err := s.library.GetPreset(r.Context(), u.ID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if preset == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, presetResponse(preset))
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	preset, err := s.library.UpsertPreset(r.Context(), u.ID, r.PathValue("id"), &store.AgentPreset{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		Inputs:      presetInputs(req.Inputs),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, presetResponse(preset))
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.library.DeletePreset(r.Context(), u.ID, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
