// Package pipeline converts discovered specifications into artifacts: the
// normalized spec, a request collection and a documentation site.
//
// Every item yields exactly one Result. Stages run in order and each persists its
// output before the next starts, so a failure keeps earlier artifacts in place.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"time"

	"github.com/raphaelgruber/apiharvest/internal/artifacts"
	"github.com/raphaelgruber/apiharvest/internal/collection"
	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/render"
	"github.com/raphaelgruber/apiharvest/internal/spec"
)

// Stage names.
type Stage string

const (
	StageAcquire Stage = "acquire"
	StageConvert Stage = "convert"
	StageRender  Stage = "render"
)

// Kind classifies stage failures.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindInvalidFormat Kind = "invalid_format"
	KindConversion    Kind = "conversion"
	KindRender        Kind = "render"
	KindStorage       Kind = "storage"
	KindCanceled      Kind = "canceled"
)

// ErrNoContent is returned for items without inline content or download URL.
var ErrNoContent = errors.New("item has no content and no download URL")

// StageError is the failure of one stage.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the outcome of processing one item.
type Result struct {
	ItemID         string        `json:"item_id"`
	Success        bool          `json:"success"`
	OpenAPIPath    string        `json:"openapi_path,omitempty"`
	CollectionPath string        `json:"collection_path,omitempty"`
	DocsPath       string        `json:"docs_path,omitempty"`
	Requests       int           `json:"requests"`
	ErrorKind      Kind          `json:"error_kind,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Err            *StageError   `json:"-"`
	Duration       time.Duration `json:"duration"`
}

// Converter turns a normalized spec into a collection tree.
type Converter interface {
	Convert(s *spec.Spec) (*collection.Tree, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(s *spec.Spec) (*collection.Tree, error)

func (f ConverterFunc) Convert(s *spec.Spec) (*collection.Tree, error) { return f(s) }

// Renderer turns a collection tree into a static site.
type Renderer interface {
	Render(tree *collection.Tree, opts render.Options) (*render.Site, error)
}

// Fetcher downloads raw content by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config wires a Pipeline. Store is required; Converter and Renderer default to
// the collection and render packages.
type Config struct {
	Store     artifacts.Store
	Fetcher   Fetcher
	Converter Converter
	Renderer  Renderer
	Theme     string
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Pipeline processes items one at a time. It is safe for concurrent use when its
// collaborators are.
type Pipeline struct {
	store     artifacts.Store
	fetcher   Fetcher
	converter Converter
	renderer  Renderer
	theme     string
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		converter: cfg.Converter,
		renderer:  cfg.Renderer,
		theme:     cfg.Theme,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if p.converter == nil {
		p.converter = ConverterFunc(collection.ConvertSpec)
	}
	if p.renderer == nil {
		p.renderer = render.New()
	}
	if p.theme == "" {
		p.theme = render.ThemeLight
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Process runs all stages for item. It never panics and never returns an error:
// failures are reported in the Result.
func (p *Pipeline) Process(ctx context.Context, item *models.DiscoveredItem) Result {
	start := time.Now()
	res := Result{ItemID: item.ID}

	finish := func(serr *StageError) Result {
		res.Duration = time.Since(start)
		if serr != nil {
			res.Err = serr
			res.ErrorKind = serr.Kind
			res.ErrorMessage = serr.Error()
			p.record(metrics.OpProcess, res.Duration, serr)
			p.logger.Debug("pipeline failed", "item", item.Name, "stage", serr.Stage, "kind", serr.Kind, "error", serr.Err)
			return res
		}
		res.Success = true
		p.record(metrics.OpProcess, res.Duration, nil)
		return res
	}

	var (
		s    *spec.Spec
		tree *collection.Tree
	)

	if serr := p.stage(ctx, StageAcquire, func() *StageError {
		var serr *StageError
		s, serr = p.acquire(ctx, item)
		if serr != nil {
			return serr
		}
		loc, err := p.timedStore(func() (string, error) {
			return p.store.Put(ctx, artifacts.SpecKey(item.ID), s.JSON)
		})
		if err != nil {
			return &StageError{Stage: StageAcquire, Kind: KindStorage, Err: err}
		}
		res.OpenAPIPath = loc
		return nil
	}); serr != nil {
		return finish(serr)
	}

	if serr := p.stage(ctx, StageConvert, func() *StageError {
		began := time.Now()
		var err error
		tree, err = p.converter.Convert(s)
		if err != nil {
			p.record(metrics.OpConvert, time.Since(began), err)
			return &StageError{Stage: StageConvert, Kind: KindConversion, Err: err}
		}
		files, err := collection.Files(tree)
		p.record(metrics.OpConvert, time.Since(began), err)
		if err != nil {
			return &StageError{Stage: StageConvert, Kind: KindConversion, Err: err}
		}
		loc, err := p.timedStore(func() (string, error) {
			return p.store.ReplaceTree(ctx, artifacts.CollectionPrefix(item.ID), files)
		})
		if err != nil {
			return &StageError{Stage: StageConvert, Kind: KindStorage, Err: err}
		}
		res.CollectionPath = loc
		res.Requests = len(tree.Requests())
		return nil
	}); serr != nil {
		return finish(serr)
	}

	if serr := p.stage(ctx, StageRender, func() *StageError {
		began := time.Now()
		site, err := p.renderer.Render(tree, render.Options{
			Theme:     p.theme,
			Title:     item.Name,
			SourceURL: item.SourceURL,
		})
		p.record(metrics.OpRender, time.Since(began), err)
		if err != nil {
			return &StageError{Stage: StageRender, Kind: KindRender, Err: err}
		}
		loc, err := p.timedStore(func() (string, error) {
			return p.store.ReplaceTree(ctx, artifacts.DocsPrefix(item.ID), site.Files)
		})
		if err != nil {
			return &StageError{Stage: StageRender, Kind: KindStorage, Err: err}
		}
		res.DocsPath = loc
		return nil
	}); serr != nil {
		return finish(serr)
	}

	return finish(nil)
}

// stage checks ctx, then runs fn and turns a panic into a StageError.
func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func() *StageError) (serr *StageError) {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: stage, Kind: KindCanceled, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			serr = &StageError{Stage: stage, Kind: panicKind(stage), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

func panicKind(stage Stage) Kind {
	switch stage {
	case StageAcquire:
		return KindInvalidFormat
	case StageRender:
		return KindRender
	default:
		return KindConversion
	}
}

// acquire returns the normalized spec from inline content or a download.
func (p *Pipeline) acquire(ctx context.Context, item *models.DiscoveredItem) (*spec.Spec, *StageError) {
	if item.RawSpec != nil {
		return p.normalize(func() (*spec.Spec, error) { return spec.FromDocument(item.RawSpec) })
	}

	raw, hint := item.RawText, path.Ext(item.FilePath)
	if raw == nil {
		if item.DownloadURL == "" || p.fetcher == nil {
			return nil, &StageError{Stage: StageAcquire, Kind: KindNetwork, Err: ErrNoContent}
		}
		began := time.Now()
		data, err := p.fetcher.Fetch(ctx, item.DownloadURL)
		p.record(metrics.OpDownload, time.Since(began), err)
		if err != nil {
			return nil, &StageError{Stage: StageAcquire, Kind: KindNetwork, Err: err}
		}
		raw = data
		if u, err := url.Parse(item.DownloadURL); err == nil {
			hint = path.Ext(u.Path)
		}
	}
	return p.normalize(func() (*spec.Spec, error) { return spec.Normalize(raw, hint) })
}

func (p *Pipeline) normalize(fn func() (*spec.Spec, error)) (*spec.Spec, *StageError) {
	began := time.Now()
	s, err := fn()
	p.record(metrics.OpNormalize, time.Since(began), err)
	if err != nil {
		return nil, &StageError{Stage: StageAcquire, Kind: KindInvalidFormat, Err: err}
	}
	return s, nil
}

func (p *Pipeline) timedStore(fn func() (string, error)) (string, error) {
	began := time.Now()
	loc, err := fn()
	p.record(metrics.OpStore, time.Since(began), err)
	return loc, err
}

func (p *Pipeline) record(op string, d time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	if err != nil {
		p.metrics.RecordError(op, d)
		return
	}
	p.metrics.RecordTiming(op, d)
}
