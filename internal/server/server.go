// Package server exposes the HTTP API: profile CRUD, batch pipeline
// triggers, artifact downloads, configuration, the roster export and the
// event stream.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certhub/internal/common"
	"certhub/internal/export"
	"certhub/internal/manager"
	"certhub/internal/storage"
)

// presignExpiry bounds how long a handed-out artifact URL stays valid.
const presignExpiry = 15 * time.Minute

// Server wires the state owner and its collaborators to HTTP.
type Server struct {
	manager *manager.Manager
	store   storage.Store
	export  *export.Service
	logger  *slog.Logger
	cfg     common.ServerConfig

	startTime time.Time
}

func New(m *manager.Manager, store storage.Store, exp *export.Service, cfg common.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:   m,
		store:     store,
		export:    exp,
		logger:    logger,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// Router builds the chi mux with the full middleware chain and route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Recovery(s.logger))
	r.Use(RequestID)
	r.Use(Logger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	r.Handle("/metrics", promhttp.Handler())

	// The event stream outlives the request timeout, so it mounts outside
	// the timed group.
	r.Get("/api/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(Timeout(s.cfg.RequestTimeout))
		}

		r.Route("/api/profiles", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListProfiles)

			r.Post("/extract", s.handleBatch(s.manager.RequestExtraction))
			r.Post("/generate", s.handleBatch(s.manager.RequestGeneration))
			r.Post("/review", s.handleBatch(s.manager.MarkReviewed))
			r.Post("/unreview", s.handleBatch(s.manager.UnmarkReviewed))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Patch("/", s.handleUpdateProfile)
				r.Delete("/", s.handleDeleteProfile)

				r.Get("/image", s.handleArtifact(artifactImage))
				r.Get("/headshot", s.handleArtifact(artifactHeadshot))
				r.Get("/certificate", s.handleArtifact(artifactCertificate))
				r.Get("/preview", s.handleArtifact(artifactPreview))
			})
		})

		r.Post("/api/certificates/combine", s.handleCombine)
		r.Get("/api/export/roster", s.handleRoster)
		r.Get("/api/config", s.handleGetConfig)
		r.Put("/api/config", s.handlePutConfig)
	})

	return r
}
