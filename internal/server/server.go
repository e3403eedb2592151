package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zixofranic/property-sync/internal/config"
	"github.com/zixofranic/property-sync/internal/handler"
	appmw "github.com/zixofranic/property-sync/internal/middleware"
)

// Server runs the importer API.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	router chi.Router
	http   *http.Server
}

// New creates a new server.
func New(cfg *config.Config, log *zap.Logger, deps *Deps) *Server {
	r := chi.NewRouter()

	r.Use(appmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(appmw.Metrics)
	r.Use(appmw.Logging(log))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(appmw.APIAuth(cfg.APITokens))

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/batches", func(r chi.Router) {
				r.Post("/", deps.Batches.CreateBatch)
				r.Route("/{batchID}", func(r chi.Router) {
					r.Get("/", deps.Batches.GetBatch)
					r.Delete("/", deps.Batches.DeleteBatch)
					r.Post("/urls", deps.Batches.AddURLs)
					r.Post("/instant", deps.Batches.CreateInstant)
					r.Post("/parse/progressive", deps.Batches.ParseProgressive)
					r.Post("/parse/sequential", deps.Batches.ParseSequential)
					r.Post("/import", deps.Batches.Import)
				})
			})

			r.Get("/sources", deps.Sources.List)
			r.Get("/sources/detect", deps.Sources.Detect)

			r.Route("/external", func(r chi.Router) {
				r.Get("/search", deps.External.Search)
				r.Get("/listings/{listingID}", deps.External.GetListing)
				r.Get("/autocomplete", deps.External.Autocomplete)
				r.Get("/quota", deps.External.QuotaStatus)
			})
		})

		r.Get("/internal/snapshots", deps.SnapshotFiles.List)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	return &Server{
		cfg:    cfg,
		log:    log,
		router: r,
		http: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
