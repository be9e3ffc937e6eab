package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

// Scheduler starts unattended runs on a cron schedule. A tick that finds a run
// in progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	req     app.SourceRequest
	runner  *service.Runner
	sources SourceFunc
	logger  *slog.Logger
	baseCtx context.Context
}

// NewScheduler parses spec (standard five-field cron syntax) and prepares a
// scheduler that starts req on every tick.
func NewScheduler(spec string, req app.SourceRequest, cfg Config) (*Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	s := &Scheduler{
		cron:    cron.New(),
		spec:    spec,
		req:     req,
		runner:  cfg.Runner,
		sources: cfg.Sources,
		logger:  logger,
		baseCtx: base,
	}
	if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("run schedule active", "schedule", s.spec, "source", s.req.Source)
}

// Stop stops scheduling. The returned context is done once a running trigger
// has returned; runs it started keep going.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) trigger() {
	src, opts, err := s.sources(s.baseCtx, s.req)
	if err != nil {
		s.logger.Error("scheduled run not started", "source", s.req.Source, "error", err)
		return
	}
	run, err := s.runner.Start(s.baseCtx, src, opts)
	if errors.Is(err, service.ErrRunInProgress) {
		s.logger.Info("skipping scheduled run, another run is in progress", "source", opts.Source)
		return
	}
	if err != nil {
		s.logger.Error("scheduled run not started", "source", opts.Source, "error", err)
		return
	}
	s.logger.Info("scheduled run started", "run_id", run.ID, "source", opts.Source)
}
