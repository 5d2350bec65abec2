package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qent/sona-sub000/pkg/types"
)

// listProviders handles GET /provider
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	if s.providers == nil {
		writeJSON(w, http.StatusOK, []types.ProviderStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.providers.Statuses())
}

// toggleProvider handles POST /provider/{name}/toggle
func (s *Server) toggleProvider(w http.ResponseWriter, r *http.Request) {
	if !s.requireProviders(w) {
		return
	}
	if err := s.providers.Toggle(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.providers.Statuses())
}

// toggleProviderTool handles POST /provider/{name}/tool/{tool}/toggle
func (s *Server) toggleProviderTool(w http.ResponseWriter, r *http.Request) {
	if !s.requireProviders(w) {
		return
	}
	if err := s.providers.ToggleTool(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "tool")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.providers.Statuses())
}

// reloadProviders handles POST /provider/reload
func (s *Server) reloadProviders(w http.ResponseWriter, r *http.Request) {
	if !s.requireProviders(w) {
		return
	}
	if err := s.providers.Reload(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.providers.Statuses())
}

func (s *Server) requireProviders(w http.ResponseWriter) bool {
	if s.providers == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "tool providers are not configured")
		return false
	}
	return true
}
