package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ScrapeRun represents a persisted batch run.
type ScrapeRun struct {
	ID             surrealmodels.RecordID `json:"id"`
	Source         string                 `json:"source"`
	Status         string                 `json:"status"`
	ItemsFound     int                    `json:"items_found"`
	ItemsProcessed int                    `json:"items_processed"`
	ItemsFailed    int                    `json:"items_failed"`
	Failures       []string               `json:"failures,omitempty"`
	Options        map[string]any         `json:"options,omitempty"`
	Error          *string                `json:"error,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// Run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
