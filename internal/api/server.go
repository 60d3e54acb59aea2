package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/formsink/formsink/internal/config"
	"github.com/formsink/formsink/internal/ingest"
	"github.com/formsink/formsink/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	store  storage.Storage
	gw     *ingest.Handler
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, gw *ingest.Handler, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		gw:    gw,
		log:   log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	subHandler := NewSubmissionHandler(s.store)
	dlHandler := NewDeadLetterHandler(s.store)
	statsHandler := NewStatsHandler(s.store)

	r.Get("/health", statsHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Ingestion plane, authenticated per request by HMAC signature.
	r.Post("/submit", s.gw.Submit)

	// Operator read plane.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/submissions/{id}", subHandler.Get)
		r.Get("/submissions/{id}/attempts", subHandler.Attempts)
		r.Get("/deadletters", dlHandler.List)
		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
