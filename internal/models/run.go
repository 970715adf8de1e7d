package models

import (
	"time"
)

// RunStatus represents the outcome of a processing request
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the history record of one document processed by the API
type Run struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Fingerprint  string    `json:"fingerprint"`
	SizeBytes    int64     `json:"size_bytes"`
	Status       RunStatus `json:"status"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	PageCount    int       `json:"page_count"`
	ImageCount   int       `json:"image_count"`
	ArchiveKey   *string   `json:"archive_key,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunListParams contains parameters for listing runs
type RunListParams struct {
	Limit  int
	Offset int
	Status *string
}
