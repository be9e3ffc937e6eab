// Package server exposes runs and the catalog over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

// Catalog is the read side of the catalog store.
type Catalog interface {
	GetItem(ctx context.Context, id string) (*models.CatalogItem, error)
	ListItems(ctx context.Context, filter models.ItemFilter) ([]models.CatalogItem, error)
	ListCategories(ctx context.Context) ([]models.CategoryCount, error)
	GetRun(ctx context.Context, id string) (*models.ScrapeRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error)
}

// SourceFunc builds the discovery source for a run request.
type SourceFunc func(ctx context.Context, req app.SourceRequest) (service.Source, service.RunOptions, error)

// Config holds the server dependencies.
type Config struct {
	Runner  *service.Runner
	Catalog Catalog // nil serves runs only
	Sources SourceFunc
	Metrics *metrics.Collector
	Logger  *slog.Logger
	// BaseContext governs runs started over HTTP. Defaults to context.Background.
	BaseContext context.Context
}

// Server handles the HTTP API.
type Server struct {
	runner   *service.Runner
	catalog  Catalog
	sources  SourceFunc
	metrics  *metrics.Collector
	logger   *slog.Logger
	baseCtx  context.Context
	upgrader websocket.Upgrader
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Server{
		runner:  cfg.Runner,
		catalog: cfg.Catalog,
		sources: cfg.Sources,
		metrics: cfg.Metrics,
		logger:  logger,
		baseCtx: base,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
	}
}

// Handler returns the router with all routes and the logging middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(LoggingMiddleware(s.logger, s.metrics))
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the API routes on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", s.handleStartRun).Methods("POST")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/watch", s.handleWatchRun).Methods("GET")
	api.HandleFunc("/items", s.handleListItems).Methods("GET")
	api.HandleFunc("/items/{id}", s.handleGetItem).Methods("GET")
	api.HandleFunc("/categories", s.handleListCategories).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
}
