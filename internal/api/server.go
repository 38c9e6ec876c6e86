package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/parley/internal/auth"
	"github.com/MikeSquared-Agency/parley/internal/captcha"
	"github.com/MikeSquared-Agency/parley/internal/feedback"
	"github.com/MikeSquared-Agency/parley/internal/persona"
	"github.com/MikeSquared-Agency/parley/internal/store"
	"github.com/MikeSquared-Agency/parley/internal/tactics"
)

// Deps are the services the HTTP layer fronts. Vision may be nil, in which
// case the screenshot routes answer 503.
type Deps struct {
	Pipeline *tactics.Pipeline
	Vision   *tactics.Vision
	Catalog  *persona.Catalog
	Captcha  *captcha.Gate
	Auth     *auth.Service
	Repo     store.Repository
	Feedback *feedback.Recorder

	// EventsConnected reports the NATS link; nil when events are disabled.
	EventsConnected func() bool

	CORSOrigins []string
	Logger      *slog.Logger
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(CORS(deps.CORSOrigins))

	s := &Server{
		router: router,
		deps:   deps,
		logger: deps.Logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/parley/status", s.status)

	router.Route("/api/v1/auth", func(r chi.Router) {
		r.Get("/captcha", s.issueCaptcha)
		r.Get("/captcha/stats", s.captchaStats)
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.With(BearerAuthMiddleware(deps.Auth)).Get("/me", s.me)
	})

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(deps.Auth))

		r.Route("/api/v1/dialog", func(r chi.Router) {
			r.Post("/analyze", s.analyze)
			r.Post("/execute", s.execute)
			r.Post("/selection", s.selection)
			r.Post("/feedback", s.feedback)
		})
		r.Route("/api/v1/vision", func(r chi.Router) {
			r.Post("/analyze", s.visionAnalyze)
			r.Post("/execute", s.visionExecute)
		})
		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/{id}/messages", s.sessionMessages)
		})
	})

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	storeState := "ok"
	if err := s.deps.Repo.Ping(r.Context()); err != nil {
		s.logger.Warn("store ping failed", "error", err)
		storeState = "unreachable"
	}
	events := "disabled"
	if s.deps.EventsConnected != nil {
		events = "disconnected"
		if s.deps.EventsConnected() {
			events = "connected"
		}
	}
	personas := 0
	if s.deps.Catalog != nil {
		personas = len(s.deps.Catalog.All())
	}
	attempts := map[string]int{}
	if s.deps.Pipeline != nil {
		attempts["text"] = s.deps.Pipeline.Attempts()
	}
	if s.deps.Vision != nil {
		attempts["vision"] = s.deps.Vision.Attempts()
	}
	JSON(w, http.StatusOK, map[string]any{
		"agent":    "parley",
		"status":   "ready",
		"store":    storeState,
		"events":   events,
		"vision":   s.deps.Vision != nil,
		"personas": personas,
		"attempts": attempts,
	})
}
