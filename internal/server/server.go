// Package server provides the HTTP API for text2sql.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Service is the pipeline surface served over HTTP.
// *pipeline.Service implements it.
type Service interface {
	QueryToSQL(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	ValidateSQL(ctx context.Context, sql string) (*models.ValidationOutcome, error)
	ExplainSQL(ctx context.Context, sql string) (*models.ExplainResult, error)
	BuildKnowledgeBase(ctx context.Context, opts pipeline.BuildOptions) (*pipeline.BuildResult, error)
	AddBusinessRule(ctx context.Context, name, definition string) error
	SchemaInfo(ctx context.Context, table string) (*pipeline.SchemaInfo, error)
	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader) (int, error)
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

// Server is the HTTP server for the text2sql API.
type Server struct {
	svc     Service
	config  *config.Config
	logger  *zap.Logger
	handler http.Handler
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(svc Service, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		config: cfg,
		logger: logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/validate", s.handleValidate)
		r.Post("/explain", s.handleExplain)
		r.Post("/knowledge/build", s.handleBuild)
		r.Get("/knowledge/export", s.handleExport)
		r.Post("/knowledge/import", s.handleImport)
		r.Post("/business-rules", s.handleAddBusinessRule)
		r.Get("/schema", s.handleSchema)
		r.Get("/stats", s.handleStats)
	})
	r.Get("/health", s.handleHealth)
	if s.config == nil || s.config.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	host, port := "0.0.0.0", 8000
	if s.config != nil {
		host, port = s.config.Server.Host, s.config.Server.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
