package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/akashicode/docuquery/internal/answer"
	"github.com/akashicode/docuquery/internal/config"
	"github.com/akashicode/docuquery/internal/display"
	"github.com/akashicode/docuquery/internal/session"
)

// Config holds the server dependencies.
type Config struct {
	Server config.ServerConfig
	LLM    config.ProviderConfig

	// Completer answers chat requests. Nil means no credential was resolved;
	// chat requests then fail with a configuration error.
	Completer answer.Completer

	// Extractor turns uploaded PDFs into text for sessions.
	Extractor session.Extractor

	Logger zerolog.Logger

	// AccessLog enables colored request lines on stdout.
	AccessLog bool
}

// Server is the docuquery HTTP server.
type Server struct {
	cfg      Config
	router   chi.Router
	sessions *Registry
	limiter  *rate.Limiter
	validate *validator.Validate
	log      zerolog.Logger
	started  time.Time
}

// New creates and initializes a new Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if cfg.Extractor == nil {
		return nil, errors.New("server: extractor is required")
	}

	s := &Server{
		cfg:      cfg,
		sessions: NewRegistry(cfg.Server.MaxSessions),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      cfg.Logger.With().Str("component", "server").Logger(),
		started:  time.Now(),
	}
	if cfg.Server.ChatRateLimit > 0 {
		burst := cfg.Server.ChatBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.ChatRateLimit), burst)
	}

	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions exposes the session registry.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.AccessLog {
		r.Use(accessLog)
	}
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	// Every method reaches the handler so it can answer 405 in JSON.
	r.With(s.rateLimit).HandleFunc("/api/chat", s.handleChat)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/document", s.handleUpload)
			r.With(s.rateLimit).Post("/questions", s.handleAsk)
			r.Post("/reset", s.handleReset)
		})
	})

	r.Post("/mcp", s.handleMCPRPC)
	r.Get("/mcp", s.handleMCPSSE)

	s.router = r
}

// handleHealth returns a simple health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"provider":   s.cfg.LLM.Provider,
		"model":      s.cfg.LLM.ModelOrDefault(),
		"configured": s.cfg.Completer != nil,
		"sessions":   s.sessions.Len(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	origins := s.cfg.Server.CORSOrigins
	wildcard := len(origins) == 0 || slices.Contains(origins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		display.LogRequest(r.Method, r.URL.Path, status, time.Since(start), r.RemoteAddr)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
