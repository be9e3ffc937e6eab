// Package service drives discovery sources through the conversion pipeline and
// tracks the resulting scrape runs.
package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/apiharvest/internal/models"
)

// maxRecordedFailures bounds the failure messages kept per run. The counter
// keeps counting past it.
const maxRecordedFailures = 500

// RunStore persists scrape runs.
type RunStore interface {
	CreateRun(ctx context.Context, id, source string, opts map[string]any, startedAt time.Time) error
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRunProgress(ctx context.Context, id string, found, processed, failed int) error
	FinishRun(ctx context.Context, run models.ScrapeRun) error
}

// Run is the live state of a scrape run.
type Run struct {
	ID             string
	Source         string
	Status         string
	ItemsFound     int
	ItemsProcessed int
	ItemsFailed    int
	Failures       []string
	Options        map[string]any
	Error          string
	StartedAt      time.Time
	CompletedAt    *time.Time

	mu          sync.RWMutex
	lastPersist time.Time
}

// RunSnapshot is a point-in-time copy of a run, safe to share and serialize.
type RunSnapshot struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	Status         string         `json:"status"`
	ItemsFound     int            `json:"items_found"`
	ItemsProcessed int            `json:"items_processed"`
	ItemsFailed    int            `json:"items_failed"`
	Failures       []string       `json:"failures,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Done reports whether the run reached a final status.
func (s RunSnapshot) Done() bool {
	return s.Status == models.RunStatusCompleted || s.Status == models.RunStatusFailed
}

// Snapshot returns a thread-safe copy of run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunSnapshot{
		ID:             r.ID,
		Source:         r.Source,
		Status:         r.Status,
		ItemsFound:     r.ItemsFound,
		ItemsProcessed: r.ItemsProcessed,
		ItemsFailed:    r.ItemsFailed,
		Failures:       slices.Clone(r.Failures),
		Options:        r.Options,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
}

// SnapshotFromModel converts a persisted run.
func SnapshotFromModel(m models.ScrapeRun) RunSnapshot {
	id, _ := models.RecordIDString(m.ID)
	s := RunSnapshot{
		ID:             id,
		Source:         m.Source,
		Status:         m.Status,
		ItemsFound:     m.ItemsFound,
		ItemsProcessed: m.ItemsProcessed,
		ItemsFailed:    m.ItemsFailed,
		Failures:       m.Failures,
		Options:        m.Options,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
	}
	if m.Error != nil {
		s.Error = *m.Error
	}
	return s
}

func (s RunSnapshot) model() models.ScrapeRun {
	m := models.ScrapeRun{
		ID:             surrealmodels.NewRecordID("scrape_run", s.ID),
		Source:         s.Source,
		Status:         s.Status,
		ItemsFound:     s.ItemsFound,
		ItemsProcessed: s.ItemsProcessed,
		ItemsFailed:    s.ItemsFailed,
		Failures:       s.Failures,
		Options:        s.Options,
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
	}
	if s.Error != "" {
		m.Error = &s.Error
	}
	return m
}

// RunManager tracks runs in memory, persists them through a RunStore and fans
// progress out to watchers.
type RunManager struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	watchers map[string]map[chan RunSnapshot]struct{}
	store    RunStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunManager creates a run manager. store may be nil for in-memory runs.
func NewRunManager(store RunStore, logger *slog.Logger) *RunManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunManager{
		runs:     make(map[string]*Run),
		watchers: make(map[string]map[chan RunSnapshot]struct{}),
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a new pending run and persists it.
func (m *RunManager) Create(ctx context.Context, source string, opts map[string]any) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String()[:8],
		Source:    source,
		Status:    models.RunStatusPending,
		Options:   opts,
		StartedAt: m.now().UTC(),
	}

	if m.store != nil {
		if err := m.store.CreateRun(ctx, run.ID, source, opts, run.StartedAt); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	m.logger.Info("run created", "run_id", run.ID, "source", source)
	return run, nil
}

// Get returns the run with id, or nil.
func (m *RunManager) Get(id string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[id]
}

// List returns all runs of this process, most recent first.
func (m *RunManager) List() []*Run {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	slices.SortFunc(runs, func(a, b *Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs
}

// SetRunning marks run as running.
func (m *RunManager) SetRunning(ctx context.Context, run *Run) {
	run.mu.Lock()
	run.Status = models.RunStatusRunning
	run.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning); err != nil {
			m.logger.Warn("failed to set run running", "run_id", run.ID, "error", err)
		}
	}
	m.notify(run)
}

// ItemFound counts one discovered item.
func (m *RunManager) ItemFound(ctx context.Context, run *Run) {
	run.mu.Lock()
	run.ItemsFound++
	run.mu.Unlock()
	m.progress(ctx, run, false)
}

// ItemDone counts one pipeline outcome. An empty failure means success.
func (m *RunManager) ItemDone(ctx context.Context, run *Run, failure string) {
	run.mu.Lock()
	if failure == "" {
		run.ItemsProcessed++
	} else {
		run.ItemsFailed++
		if len(run.Failures) < maxRecordedFailures {
			run.Failures = append(run.Failures, failure)
		}
	}
	done := run.ItemsProcessed + run.ItemsFailed
	run.mu.Unlock()
	m.progress(ctx, run, done%10 == 0)
}

// progress notifies watchers and persists counters at most every five seconds
// unless force is set.
func (m *RunManager) progress(ctx context.Context, run *Run, force bool) {
	m.notify(run)
	if m.store == nil {
		return
	}

	run.mu.Lock()
	persist := force || m.now().Sub(run.lastPersist) > 5*time.Second
	if persist {
		run.lastPersist = m.now()
	}
	found, processed, failed := run.ItemsFound, run.ItemsProcessed, run.ItemsFailed
	run.mu.Unlock()

	if persist {
		if err := m.store.UpdateRunProgress(ctx, run.ID, found, processed, failed); err != nil {
			m.logger.Warn("failed to persist run progress", "run_id", run.ID, "error", err)
		}
	}
}

// Complete marks run as completed.
func (m *RunManager) Complete(ctx context.Context, run *Run) {
	m.finish(ctx, run, models.RunStatusCompleted, nil)
}

// Fail marks run as failed with err.
func (m *RunManager) Fail(ctx context.Context, run *Run, err error) {
	m.finish(ctx, run, models.RunStatusFailed, err)
}

func (m *RunManager) finish(ctx context.Context, run *Run, status string, err error) {
	run.mu.Lock()
	run.Status = status
	if err != nil {
		run.Error = err.Error()
	}
	now := m.now().UTC()
	run.CompletedAt = &now
	run.mu.Unlock()

	snap := run.Snapshot()
	if m.store != nil {
		if dbErr := m.store.FinishRun(ctx, snap.model()); dbErr != nil {
			m.logger.Warn("failed to persist run result", "run_id", run.ID, "error", dbErr)
		}
	}

	if err != nil {
		m.logger.Error("run failed", "run_id", run.ID, "processed", snap.ItemsProcessed, "failed", snap.ItemsFailed, "error", err)
	} else {
		m.logger.Info("run completed", "run_id", run.ID, "found", snap.ItemsFound, "processed", snap.ItemsProcessed, "failed", snap.ItemsFailed)
	}

	m.mu.Lock()
	for ch := range m.watchers[run.ID] {
		select {
		case ch <- snap:
		default:
			// Full: drop the oldest update so the final state always lands.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
		close(ch)
	}
	delete(m.watchers, run.ID)
	m.mu.Unlock()
}

// Watch streams snapshots of the run until it finishes. The channel receives
// the current state first and is closed after the final state. Call stop to
// unsubscribe early. ok is false for unknown runs.
func (m *RunManager) Watch(id string) (updates <-chan RunSnapshot, stop func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, func() {}, false
	}

	ch := make(chan RunSnapshot, 16)
	snap := run.Snapshot()
	ch <- snap
	if snap.Done() {
		close(ch)
		return ch, func() {}, true
	}

	if m.watchers[id] == nil {
		m.watchers[id] = make(map[chan RunSnapshot]struct{})
	}
	m.watchers[id][ch] = struct{}{}

	stop = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[id][ch]; ok {
			delete(m.watchers[id], ch)
			close(ch)
		}
	}
	return ch, stop, true
}

// notify sends the current state to watchers without blocking. Slow watchers
// miss intermediate updates, never the final one.
func (m *RunManager) notify(run *Run) {
	snap := run.Snapshot()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.watchers[run.ID] {
		select {
		case ch <- snap:
		default:
		}
	}
}
