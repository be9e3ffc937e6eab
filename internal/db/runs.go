package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/apiharvest/internal/models"
)

// CreateRun persists a new pending run.
func (c *Client) CreateRun(ctx context.Context, id, source string, opts map[string]any, startedAt time.Time) error {
	if opts == nil {
		opts = map[string]any{}
	}
	_, err := query[models.ScrapeRun](ctx, c, "create run", `
		CREATE type::record("scrape_run", $id) SET
			source = $source,
			status = "pending",
			options = $options,
			started_at = $started_at
	`, map[string]any{
		"id":         id,
		"source":     source,
		"options":    opts,
		"started_at": startedAt,
	})
	return err
}

// UpdateRunStatus sets the status of an unfinished run.
func (c *Client) UpdateRunStatus(ctx context.Context, id, status string) error {
	_, err := query[models.ScrapeRun](ctx, c, "update run status", `
		UPDATE type::record("scrape_run", $id) SET status = $status
	`, map[string]any{"id": id, "status": status})
	return err
}

// UpdateRunProgress stores the running counters.
func (c *Client) UpdateRunProgress(ctx context.Context, id string, found, processed, failed int) error {
	_, err := query[models.ScrapeRun](ctx, c, "update run progress", `
		UPDATE type::record("scrape_run", $id) SET
			items_found = $found,
			items_processed = $processed,
			items_failed = $failed
	`, map[string]any{"id": id, "found": found, "processed": processed, "failed": failed})
	return err
}

// FinishRun writes the final state of run: status, counters, failures, error and
// completion time.
func (c *Client) FinishRun(ctx context.Context, run models.ScrapeRun) error {
	id, err := models.RecordIDString(run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	failures := run.Failures
	if failures == nil {
		failures = []string{}
	}
	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}
	_, err = query[models.ScrapeRun](ctx, c, "finish run", `
		UPDATE type::record("scrape_run", $id) SET
			status = $status,
			items_found = $found,
			items_processed = $processed,
			items_failed = $failed,
			failures = $failures,
			error = $error,
			completed_at = $completed_at
	`, map[string]any{
		"id":           id,
		"status":       run.Status,
		"found":        run.ItemsFound,
		"processed":    run.ItemsProcessed,
		"failed":       run.ItemsFailed,
		"failures":     failures,
		"error":        run.Error,
		"completed_at": completedAt,
	})
	return err
}

// GetRun returns the run with the given id, or ErrNotFound.
func (c *Client) GetRun(ctx context.Context, id string) (*models.ScrapeRun, error) {
	rows, err := query[models.ScrapeRun](ctx, c, "get run",
		`SELECT * FROM type::record("scrape_run", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return &rows[0], nil
}

// ListRuns returns the most recent runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := query[models.ScrapeRun](ctx, c, "list runs",
		`SELECT * FROM scrape_run ORDER BY started_at DESC LIMIT $limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.ScrapeRun{}
	}
	return rows, nil
}

// FailInterruptedRuns marks runs left pending or running by a previous process
// as failed and returns how many were updated.
func (c *Client) FailInterruptedRuns(ctx context.Context, reason string) (int, error) {
	rows, err := query[models.ScrapeRun](ctx, c, "fail interrupted runs", `
		UPDATE scrape_run SET
			status = "failed",
			error = $reason,
			completed_at = time::now()
		WHERE status IN ["pending", "running"]
		RETURN AFTER
	`, map[string]any{"reason": reason})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
