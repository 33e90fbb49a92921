// Package ingest runs bulk imports as trackable asynchronous jobs: a file is
// parsed into sections up front, a job is created, and sections are indexed
// in the background while callers poll job status.
package ingest

import (
	"time"

	"github.com/todomyday/recall/internal/retrieval/model"
)

// Status is the job state machine: pending -> processing -> completed|failed.
// The two terminal states are immutable.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is one of the immutable end states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Section is one pre-parsed piece of an uploaded file, in original file
// order.
type Section struct {
	Heading string
	Content string
	Order   int
}

// Job is a point-in-time snapshot of an ingestion job, safe to serve to
// pollers. ProcessedItems counts consumed sections and never exceeds
// TotalItems; Results grows in section order.
type Job struct {
	ID             string           `json:"job_id"`
	OwnerID        string           `json:"-"`
	Filename       string           `json:"filename"`
	FileType       string           `json:"file_type"`
	Status         Status           `json:"status"`
	TotalItems     int              `json:"total_items"`
	ProcessedItems int              `json:"processed_items"`
	FailedItems    int              `json:"failed_items,omitempty"`
	Progress       int              `json:"progress"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	Results        []model.Document `json:"memories"`
	CreatedAt      time.Time        `json:"created_at"`
}

func progressPercent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return processed * 100 / total
}
