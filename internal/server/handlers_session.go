package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// SendMessageRequest is the body of POST /session/message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// PermissionRequest is the body of POST /session/permission.
type PermissionRequest struct {
	Allow   bool `json:"allow"`
	Persist bool `json:"persist"`
}

// getSession handles GET /session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conv.State().Current())
}

// loadChat handles POST /session/load/{chatID}
func (s *Server) loadChat(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.LoadChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.conv.State().Current())
}

// sendMessage handles POST /session/message. It returns once the turn has
// started; progress arrives on /session/event.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.conv.Send(r.Context(), req.Text); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.conv.State().Current())
}

// stopTurn handles POST /session/stop
func (s *Server) stopTurn(w http.ResponseWriter, r *http.Request) {
	s.conv.Stop()
	writeJSON(w, http.StatusOK, s.conv.State().Current())
}

// deleteFrom handles POST /session/delete-from/{index}
func (s *Server) deleteFrom(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "index must be a non-negative integer")
		return
	}
	if err := s.conv.DeleteFrom(r.Context(), index); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.conv.State().Current())
}

// toggleAutoApprove handles POST /session/auto-approve
func (s *Server) toggleAutoApprove(w http.ResponseWriter, r *http.Request) {
	enabled := s.conv.ToggleAutoApproveTools()
	writeJSON(w, http.StatusOK, map[string]bool{"autoApproveTools": enabled})
}

// resolvePermission handles POST /session/permission
func (s *Server) resolvePermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.conv.ResolvePermission(r.Context(), req.Allow, req.Persist); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}
