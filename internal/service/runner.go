package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/pipeline"
)

// ErrRunInProgress is returned when a Runner is asked to start a second run.
var ErrRunInProgress = errors.New("a run is already in progress")

// Source is a discovery source. Err reports why discovery stopped early, if
// it did, and is only meaningful after the sequence is exhausted.
type Source interface {
	Discover(ctx context.Context) iter.Seq[*models.DiscoveredItem]
	Err() error
}

// Processor converts one item.
type Processor interface {
	Process(ctx context.Context, item *models.DiscoveredItem) pipeline.Result
}

// Classifier assigns categories to free text.
type Classifier interface {
	Classify(text string) []string
}

// ItemStore persists successfully converted items.
type ItemStore interface {
	UpsertItem(ctx context.Context, id string, item models.CatalogItem) (*models.CatalogItem, error)
}

// RunOptions configure one run.
type RunOptions struct {
	// Source labels the run and its metrics ("github", "apisguru").
	Source string
	// Concurrency > 1 converts items in parallel while discovery stays sequential.
	Concurrency int
	// Options are recorded on the run as given.
	Options map[string]any
}

// RunnerConfig wires a Runner. Items and Metrics may be nil.
type RunnerConfig struct {
	Runs       *RunManager
	Pipeline   Processor
	Classifier Classifier
	Items      ItemStore
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Runner drives one run at a time from a Source through the pipeline.
type Runner struct {
	runs       *RunManager
	pipeline   Processor
	classifier Classifier
	items      ItemStore
	metrics    *metrics.Collector
	logger     *slog.Logger
	active     atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runs := cfg.Runs
	if runs == nil {
		runs = NewRunManager(nil, logger)
	}
	return &Runner{
		runs:       runs,
		pipeline:   cfg.Pipeline,
		classifier: cfg.Classifier,
		items:      cfg.Items,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Runs returns the run manager.
func (r *Runner) Runs() *RunManager {
	return r.runs
}

// Run executes a full run and blocks until it finishes. The returned error is
// non-nil when the run could not be created or ended failed; the run is
// returned in the latter case too.
func (r *Runner) Run(ctx context.Context, src Source, opts RunOptions) (*Run, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.active.Store(false)

	run, err := r.runs.Create(ctx, opts.Source, opts.Options)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := r.execute(ctx, run, src, opts); err != nil {
		return run, fmt.Errorf("run %s: %w", run.ID, err)
	}
	return run, nil
}

// Start creates the run and executes it in the background. ctx governs the
// whole run, so callers pass a long-lived context rather than a request's.
func (r *Runner) Start(ctx context.Context, src Source, opts RunOptions) (*Run, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	run, err := r.runs.Create(ctx, opts.Source, opts.Options)
	if err != nil {
		r.active.Store(false)
		return nil, fmt.Errorf("create run: %w", err)
	}

	go func() {
		defer r.active.Store(false)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("run goroutine panicked", "run_id", run.ID, "panic", p)
				r.runs.Fail(context.WithoutCancel(ctx), run, fmt.Errorf("internal panic: %v", p))
			}
		}()
		_ = r.execute(ctx, run, src, opts)
	}()
	return run, nil
}

// Active reports whether a run is in progress.
func (r *Runner) Active() bool {
	return r.active.Load()
}

func (r *Runner) execute(ctx context.Context, run *Run, src Source, opts RunOptions) error {
	r.runs.SetRunning(ctx, run)

	if opts.Concurrency > 1 {
		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for item := range src.Discover(ctx) {
			r.runs.ItemFound(ctx, run)
			g.Go(func() error {
				r.process(ctx, run, opts.Source, item)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for item := range src.Discover(ctx) {
			r.runs.ItemFound(ctx, run)
			r.process(ctx, run, opts.Source, item)
		}
	}

	err := src.Err()
	if err == nil {
		err = ctx.Err()
	}

	// Finalize even when ctx is cancelled.
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		r.runs.Fail(finalCtx, run, err)
		r.recordRun(opts.Source, models.RunStatusFailed)
		return err
	}
	r.runs.Complete(finalCtx, run)
	r.recordRun(opts.Source, models.RunStatusCompleted)
	return nil
}

// process converts, classifies and stores one item. Failures are counted on
// the run and never escape.
func (r *Runner) process(ctx context.Context, run *Run, source string, item *models.DiscoveredItem) {
	name := item.Name
	if name == "" {
		name = item.DedupKey()
	}

	res := r.pipeline.Process(ctx, item)
	if !res.Success {
		r.fail(ctx, run, source, name, res.ErrorMessage)
		return
	}

	var categories []string
	if r.classifier != nil {
		began := time.Now()
		categories = r.classifier.Classify(item.Name + " " + item.Description)
		if r.metrics != nil {
			r.metrics.RecordTiming(metrics.OpClassify, time.Since(began))
		}
	}

	if r.items != nil {
		entry := models.CatalogItem{
			DedupKey:        item.DedupKey(),
			Source:          string(item.Source),
			Name:            item.Name,
			Description:     item.Description,
			Version:         item.Version,
			SourceURL:       item.SourceURL,
			DownloadURL:     item.DownloadURL,
			PopularityScore: item.PopularityScore,
			RepoOwner:       item.RepoOwner,
			RepoName:        item.RepoName,
			FilePath:        item.FilePath,
			Categories:      categories,
			OpenAPIPath:     res.OpenAPIPath,
			CollectionPath:  res.CollectionPath,
			DocsPath:        res.DocsPath,
			DiscoveredAt:    item.DiscoveredAt,
		}
		if _, err := r.items.UpsertItem(ctx, item.ID, entry); err != nil {
			r.fail(ctx, run, source, name, "store catalog item: "+err.Error())
			return
		}
	}

	r.logger.Debug("item processed", "run_id", run.ID, "item", name, "categories", categories)
	if r.metrics != nil {
		r.metrics.RecordItem(source, true)
	}
	r.runs.ItemDone(ctx, run, "")
}

func (r *Runner) fail(ctx context.Context, run *Run, source, name, reason string) {
	msg := name + ": " + reason
	r.logger.Warn("item failed", "run_id", run.ID, "failure", msg)
	if r.metrics != nil {
		r.metrics.RecordItem(source, false)
	}
	r.runs.ItemDone(ctx, run, msg)
}

func (r *Runner) recordRun(source, status string) {
	if r.metrics != nil {
		r.metrics.RecordRun(source, status)
	}
}
