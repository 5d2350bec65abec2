package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/internal/state"
	"github.com/qent/sona-sub000/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		// no write timeout, SSE responses are long-lived
		WriteTimeout: 0,
	}
}

// Conversation is the conversation controller as seen over HTTP.
type Conversation interface {
	Send(ctx context.Context, text string) error
	Stop()
	DeleteFrom(ctx context.Context, index int) error
	LoadChat(ctx context.Context, chatID string) error
	NewChat()
	DeleteChat(ctx context.Context, chatID string) error
	ToggleAutoApproveTools() bool
	ResolvePermission(ctx context.Context, allow, persist bool) error
	State() *state.SessionState
}

// Chats reads persisted chats.
type Chats interface {
	ListChats(ctx context.Context) ([]types.ChatSummary, error)
	LoadMessages(ctx context.Context, chatID string) ([]types.TurnMessage, error)
	LoadTokenUsage(ctx context.Context, chatID string) (types.TokenUsage, error)
}

// Providers is the tool provider manager.
type Providers interface {
	Statuses() []types.ProviderStatus
	Toggle(ctx context.Context, name string) error
	ToggleTool(ctx context.Context, provider, tool string) error
	Reload(ctx context.Context) error
}

// Deps are the collaborators a Server exposes.
type Deps struct {
	Conversation Conversation
	Chats        Chats
	Providers    Providers // optional
	Bus          *event.Bus
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	conv      Conversation
	chats     Chats
	providers Providers
	bus       *event.Bus
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		conv:      deps.Conversation,
		chats:     deps.Chats,
		providers: deps.Providers,
		bus:       deps.Bus,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("requestID", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	err := s.httpSrv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
