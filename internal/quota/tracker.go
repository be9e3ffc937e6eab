// Package quota guards calls to a rate-limited search API.
//
// A Tracker reads the remaining search quota before every call, suspends the
// caller until the reset time when the quota is nearly spent, and retries calls
// that fail with a quota error a bounded number of times.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned once a call keeps failing with quota errors after
// all retries are spent.
var ErrQuotaExceeded = errors.New("search quota exceeded")

// Status is a snapshot of the search quota as reported by the API.
type Status struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Source reports the current search quota.
type Source interface {
	SearchQuota(ctx context.Context) (Status, error)
}

// RateLimitedError is the error search clients return when a call was rejected
// because of a primary or secondary rate limit.
type RateLimitedError struct {
	// ResetAt is when the primary quota resets. Zero when unknown.
	ResetAt time.Time
	// RetryAfter is a server-provided wait, used for secondary limits.
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	if e.Message != "" {
		return "rate limited: " + e.Message
	}
	return "rate limited"
}

// Classification describes whether an error is a quota error and how long to wait.
type Classification struct {
	IsQuotaError bool
	RetryAfter   time.Duration
}

// Config tunes a Tracker.
type Config struct {
	// Threshold is the remaining-quota level at or below which callers wait for reset.
	Threshold int
	// Buffer is added to every reset wait.
	Buffer time.Duration
	// MaxRetries bounds retries of a call that failed with a quota error.
	MaxRetries int
	// FallbackWait is used when a quota error carries no usable reset time.
	FallbackWait time.Duration
	// OnWait, if set, is called before every suspension.
	OnWait func(d time.Duration)
}

// DefaultConfig returns the tracker defaults used by the crawler.
func DefaultConfig() Config {
	return Config{
		Threshold:    1,
		Buffer:       5 * time.Second,
		MaxRetries:   3,
		FallbackWait: 60 * time.Second,
	}
}

// Tracker serializes quota checks for all search calls issued by one process.
type Tracker struct {
	source Source
	cfg    Config
	logger *slog.Logger

	// mu makes read-then-wait atomic with respect to other searches.
	mu sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	waits     int
	totalWait time.Duration
}

// NewTracker creates a Tracker reading quota from source.
func NewTracker(source Source, cfg Config, logger *slog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.Threshold < 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.FallbackWait <= 0 {
		cfg.FallbackWait = def.FallbackWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		source: source,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// CheckAndWait reads the current quota and blocks until it is safe to issue a search.
// A failing quota read is logged and treated as "safe": the call itself will then
// surface any quota error.
func (t *Tracker) CheckAndWait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, err := t.source.SearchQuota(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("failed to read search quota", "error", err)
		return nil
	}

	if status.Remaining > t.cfg.Threshold {
		return nil
	}

	wait := status.ResetAt.Sub(t.now()) + t.cfg.Buffer
	if wait <= 0 {
		return nil
	}

	t.logger.Info("search quota low, waiting for reset",
		"remaining", status.Remaining,
		"limit", status.Limit,
		"reset_at", status.ResetAt.Format(time.RFC3339),
		"wait", wait.Round(time.Second))
	return t.wait(ctx, wait)
}

// Classify reports whether err is a quota error and the wait it implies.
func (t *Tracker) Classify(err error) Classification {
	return classify(err, t.now(), t.cfg.Buffer)
}

func classify(err error, now time.Time, buffer time.Duration) Classification {
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		return Classification{}
	}
	c := Classification{IsQuotaError: true}
	switch {
	case rl.RetryAfter > 0:
		c.RetryAfter = rl.RetryAfter
	case !rl.ResetAt.IsZero():
		c.RetryAfter = rl.ResetAt.Sub(now) + buffer
	}
	if c.RetryAfter < 0 {
		c.RetryAfter = 0
	}
	return c
}

// Do runs fn after CheckAndWait and retries it while it fails with quota errors.
// After MaxRetries quota failures the returned error wraps ErrQuotaExceeded.
// Errors that are not quota errors are returned unchanged.
func (t *Tracker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if err := t.CheckAndWait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		c := t.Classify(err)
		if !c.IsQuotaError {
			return err
		}
		lastErr = err

		if attempt == t.cfg.MaxRetries {
			break
		}

		wait := c.RetryAfter
		if wait <= 0 {
			wait = t.resetWait(ctx)
		}
		t.logger.Warn("search rate limited, retrying",
			"attempt", attempt+1,
			"max_retries", t.cfg.MaxRetries,
			"wait", wait.Round(time.Second),
			"error", err)
		if err := t.waitLocked(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d retries: %v", ErrQuotaExceeded, t.cfg.MaxRetries, lastErr)
}

// resetWait re-reads the reset time after a quota error.
func (t *Tracker) resetWait(ctx context.Context) time.Duration {
	status, err := t.source.SearchQuota(ctx)
	if err != nil || status.ResetAt.IsZero() {
		return t.cfg.FallbackWait
	}
	wait := status.ResetAt.Sub(t.now()) + t.cfg.Buffer
	if wait <= 0 {
		return t.cfg.Buffer
	}
	return wait
}

// waitLocked holds the tracker lock for the duration of the wait so no other
// search slips through while the quota is known to be exhausted.
func (t *Tracker) waitLocked(ctx context.Context, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wait(ctx, d)
}

// wait must be called with t.mu held.
func (t *Tracker) wait(ctx context.Context, d time.Duration) error {
	t.waits++
	t.totalWait += d
	if t.cfg.OnWait != nil {
		t.cfg.OnWait(d)
	}
	return t.sleep(ctx, d)
}

// Waits returns how many times callers were suspended and for how long in total.
func (t *Tracker) Waits() (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waits, t.totalWait
}

// sleepCtx pauses for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
