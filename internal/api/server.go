package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/forPelevin/hlreel/internal/jobs"
	"github.com/forPelevin/hlreel/internal/ports"
)

type ServerConfig struct {
	Addr  string
	Store ports.JobStore
	Jobs  jobs.Dispatcher
	// JWTSecret enables bearer auth on /v1; empty leaves the API open.
	JWTSecret []byte
	// PollInterval is how often the events stream checks the job store.
	PollInterval time.Duration
	Logger       zerolog.Logger
	StartTime    time.Time
}

type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: cfg.Logger,
	}
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/v1", func(r chi.Router) {
		if len(cfg.JWTSecret) > 0 {
			r.Use(AuthMiddleware(cfg.JWTSecret, cfg.Logger))
		}
		r.Post("/jobs", createJobHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Delete("/jobs/{id}", cancelJobHandler(cfg))
		r.Get("/jobs/{id}/events", jobEventsHandler(cfg))
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
