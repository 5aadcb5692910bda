package model

import "time"

// BatchStatus is the lifecycle state of an upload batch.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Batch records one upload and how its providers were classified.
type Batch struct {
	ID          string      `json:"id"`
	FileName    string      `json:"file_name"`
	Status      BatchStatus `json:"status"`
	Stage       string      `json:"stage,omitempty"`
	Records     int         `json:"records"`
	Malformed   int         `json:"malformed"`
	Verified    int         `json:"verified"`
	NeedsReview int         `json:"needs_review"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
