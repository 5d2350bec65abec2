package server

import (
	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRoutes() {
	r := s.router

	// Persisted chats
	r.Route("/chat", func(r chi.Router) {
		r.Get("/", s.listChats)
		r.Post("/", s.newChat)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/", s.getChat)
			r.Delete("/", s.deleteChat)
		})
	})

	// The live session
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Get("/event", s.sessionEvents)
		r.Post("/load/{chatID}", s.loadChat)
		r.Post("/message", s.sendMessage)
		r.Post("/stop", s.stopTurn)
		r.Post("/delete-from/{index}", s.deleteFrom)
		r.Post("/auto-approve", s.toggleAutoApprove)
		r.Post("/permission", s.resolvePermission)
	})

	// Tool providers
	r.Route("/provider", func(r chi.Router) {
		r.Get("/", s.listProviders)
		r.Post("/reload", s.reloadProviders)
		r.Post("/{name}/toggle", s.toggleProvider)
		r.Post("/{name}/tool/{tool}/toggle", s.toggleProviderTool)
	})

	// Bus events
	r.Get("/event", s.allEvents)
}
