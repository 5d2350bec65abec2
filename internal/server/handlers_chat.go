package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qent/sona-sub000/pkg/types"
)

// ChatResponse is a persisted chat with its history.
type ChatResponse struct {
	ID         string              `json:"id"`
	TokenUsage types.TokenUsage    `json:"tokenUsage"`
	Messages   []types.TurnMessage `json:"messages"`
}

// listChats handles GET /chat
func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.chats.ListChats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if chats == nil {
		chats = []types.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// newChat handles POST /chat. The chat is persisted with its first message.
func (s *Server) newChat(w http.ResponseWriter, r *http.Request) {
	s.conv.NewChat()
	writeJSON(w, http.StatusOK, s.conv.State().Current())
}

// getChat handles GET /chat/{chatID}
func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	messages, err := s.chats.LoadMessages(r.Context(), chatID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	usage, err := s.chats.LoadTokenUsage(r.Context(), chatID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []types.TurnMessage{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{ID: chatID, TokenUsage: usage, Messages: messages})
}

// deleteChat handles DELETE /chat/{chatID}
func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.DeleteChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}
