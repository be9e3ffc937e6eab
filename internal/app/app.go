// Package app wires configuration into the running components shared by the
// CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/apiharvest/internal/artifacts"
	"github.com/raphaelgruber/apiharvest/internal/classify"
	"github.com/raphaelgruber/apiharvest/internal/config"
	"github.com/raphaelgruber/apiharvest/internal/crawl"
	"github.com/raphaelgruber/apiharvest/internal/db"
	"github.com/raphaelgruber/apiharvest/internal/fetch"
	"github.com/raphaelgruber/apiharvest/internal/importer"
	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/pipeline"
	"github.com/raphaelgruber/apiharvest/internal/quota"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

// ErrUnknownSource is returned for source names other than github and apisguru.
var ErrUnknownSource = errors.New("unknown source")

// App holds the long-lived components of one process.
type App struct {
	Config     config.Config
	DB         *db.Client // nil when started without a catalog
	Store      artifacts.Store
	Fetcher    *fetch.Client
	Metrics    *metrics.Collector
	Categories *classify.Table
	Pipeline   *pipeline.Pipeline
	Runner     *service.Runner
	Logger     *slog.Logger
}

// New validates cfg and builds an App. withDB connects to SurrealDB and
// initializes the schema; without it runs are kept in memory only.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, withDB bool) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(false); err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Fetcher: fetch.New(),
		Metrics: metrics.NewCollector(),
		Logger:  logger,
	}

	categories, err := classify.Load(cfg.CategoriesFile)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	a.Categories = categories

	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	a.Pipeline = pipeline.New(pipeline.Config{
		Store:   store,
		Fetcher: a.Fetcher,
		Theme:   cfg.Theme,
		Metrics: a.Metrics,
		Logger:  logger,
	})

	runnerCfg := service.RunnerConfig{
		Pipeline:   a.Pipeline,
		Classifier: categories,
		Metrics:    a.Metrics,
		Logger:     logger,
	}
	if withDB {
		client, err := db.NewClient(ctx, DBConfig(cfg), logger, a.Metrics)
		if err != nil {
			return nil, err
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		a.DB = client
		runnerCfg.Runs = service.NewRunManager(client, logger)
		runnerCfg.Items = client
	}
	a.Runner = service.NewRunner(runnerCfg)
	return a, nil
}

// Close releases the catalog connection.
func (a *App) Close(ctx context.Context) error {
	if a.DB != nil {
		return a.DB.Close(ctx)
	}
	return nil
}

// DBConfig extracts the SurrealDB settings.
func DBConfig(cfg config.Config) db.Config {
	return db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
}

// NewStore returns the S3 store when a bucket is configured, otherwise the
// filesystem store under the data directory.
func NewStore(ctx context.Context, cfg config.Config) (artifacts.Store, error) {
	if cfg.S3Bucket != "" {
		return artifacts.NewS3(ctx, artifacts.S3Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3PathStyle,
		})
	}
	return artifacts.NewFS(cfg.DataDir)
}

// SourceRequest selects a discovery source and overrides crawl defaults for
// one run. Nil fields keep the configured value.
type SourceRequest struct {
	Source      string   `json:"source"`
	MaxResults  *int     `json:"max_results,omitempty"`
	MinScore    *int     `json:"min_score,omitempty"`
	Concurrency *int     `json:"concurrency,omitempty"`
	Patterns    []string `json:"patterns,omitempty"`
}

// Source builds the discovery source and run options for req. Configuration
// errors surface here, before any run record exists.
func (a *App) Source(ctx context.Context, req SourceRequest) (service.Source, service.RunOptions, error) {
	maxResults := valueOr(req.MaxResults, a.Config.MaxResults)
	minScore := valueOr(req.MinScore, a.Config.MinScore)
	opts := service.RunOptions{
		Concurrency: valueOr(req.Concurrency, a.Config.Concurrency),
		Options:     map[string]any{"max_results": maxResults},
	}

	switch req.Source {
	case "", string(models.SourceGitHub):
		if err := a.Config.Validate(true); err != nil {
			return nil, opts, err
		}
		gh, err := crawl.NewGitHub(ctx, a.Config.GitHubToken, a.Config.GitHubAPIURL)
		if err != nil {
			return nil, opts, err
		}
		qcfg := quota.DefaultConfig()
		qcfg.OnWait = a.Metrics.RecordQuotaWait
		tracker := quota.NewTracker(gh, qcfg, a.Logger)

		copts := crawl.DefaultOptions()
		copts.MinScore = minScore
		copts.MaxResults = maxResults
		if len(req.Patterns) > 0 {
			copts.Patterns = req.Patterns
		}
		copts.Known = a.known()
		copts.Fetcher = a.Fetcher
		copts.Logger = a.Logger

		opts.Source = string(models.SourceGitHub)
		opts.Options["min_score"] = minScore
		opts.Options["patterns"] = copts.Patterns
		session, err := crawl.NewSession(timedSearch{SearchAPI: gh, metrics: a.Metrics}, tracker, copts)
		if err != nil {
			return nil, opts, err
		}
		return session, opts, nil

	case string(models.SourceAPIsGuru):
		opts.Source = string(models.SourceAPIsGuru)
		return importer.NewAPIsGuru(a.Fetcher, importer.APIsGuruOptions{
			MaxResults: maxResults,
			Known:      a.known(),
			Logger:     a.Logger,
		}), opts, nil

	default:
		return nil, opts, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}
}

// known checks the catalog for items from earlier runs.
func (a *App) known() func(ctx context.Context, key string) (bool, error) {
	if a.DB == nil {
		return nil
	}
	return a.DB.HasItem
}

func valueOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// timedSearch records code-search latency.
type timedSearch struct {
	crawl.SearchAPI
	metrics *metrics.Collector
}

func (t timedSearch) SearchCode(ctx context.Context, query string, page, perPage int) (*crawl.SearchResult, error) {
	began := time.Now()
	res, err := t.SearchAPI.SearchCode(ctx, query, page, perPage)
	if err != nil {
		t.metrics.RecordError(metrics.OpSearch, time.Since(began))
	} else {
		t.metrics.RecordTiming(metrics.OpSearch, time.Since(began))
	}
	return res, err
}
