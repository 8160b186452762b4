// ABOUTME: HTTP server assembly for the atelier API
// ABOUTME: Routes, auth middleware wiring, and shared response helpers

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atelier-run/atelier/internal/auth"
	"github.com/atelier-run/atelier/internal/library"
	"github.com/atelier-run/atelier/internal/store"
	"github.com/atelier-run/atelier/internal/user"
)

// Server exposes the user, library and preset services over HTTP.
type Server struct {
	users    *user.Service
	library  *library.Service
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewServer creates an API server over the given services.
func NewServer(users *user.Service, lib *library.Service, verifier auth.TokenVerifier) *Server {
	return &Server{
		users:    users,
		library:  lib,
		verifier: verifier,
		logger:   slog.Default().With("component", "api"),
	}
}

// Handler builds the routing table. Everything under /api requires a bearer
// token; /health does not.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/me", s.handleMe)
	api.HandleFunc("GET /api/me/metadata", s.handleGetMetadata)
	api.HandleFunc("PUT /api/me/metadata", s.handleUpdateMetadata)
	api.HandleFunc("GET /api/me/integrations", s.handleGetIntegrations)
	api.HandleFunc("PUT /api/me/integrations", s.handleUpdateIntegrations)
	api.HandleFunc("GET /api/me/notifications", s.handleNotificationPreference)

	api.HandleFunc("GET /api/library/agents", s.handleListAgents)
	api.HandleFunc("POST /api/library/agents", s.handleAddAgent)
	api.HandleFunc("GET /api/library/agents/{id}", s.handleGetAgent)
	api.HandleFunc("PUT /api/library/agents/{id}", s.handleUpdateAgent)
	api.HandleFunc("PUT /api/library/version", s.handleUpdateAgentVersion)
	api.HandleFunc("DELETE /api/library/graphs/{graphID}", s.handleDeleteAgentsByGraph)
	api.HandleFunc("POST /api/library/store", s.handleAddStoreAgent)

	api.HandleFunc("GET /api/presets", s.handleListPresets)
	api.HandleFunc("POST /api/presets", s.handleCreatePreset)
	api.HandleFunc("GET /api/presets/{id}", s.handleGetPreset)
	api.HandleFunc("PUT /api/presets/{id}", s.handleUpdatePreset)
	api.HandleFunc("DELETE /api/presets/{id}", s.handleDeletePreset)

	authed := auth.HTTPAuthMiddleware(s.verifier)(api)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/api/", authed)
	return mux
}

// currentUser resolves the request's verified claims to an account.
func (s *Server) currentUser(r *http.Request) (*store.User, error) {
	return s.users.GetOrCreateUser(r.Context(), auth.FromContext(r.Context()))
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps a service error to an HTTP status. Typed not-found errors
// become 404, claim and validation failures 401/400, and everything else is
// reported as a server-side failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrMissingClaims):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing identity claims"})
	case errors.Is(err, library.ErrSearchTooLong):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "search query too long"})
	case errors.Is(err, store.ErrAgentNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "agent not found"})
	case errors.Is(err, store.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
