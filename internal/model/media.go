// Package model contains simple struct definitions shared across packages.
package model

import (
	"encoding/json"
	"time"
)

// AIStatus describes where a media item is in the annotation lifecycle.
type AIStatus string

const (
	AIStatusPending    AIStatus = "pending"
	AIStatusProcessing AIStatus = "processing"
	AIStatusCompleted  AIStatus = "completed"
	AIStatusFailed     AIStatus = "failed"
)

// Media is one uploaded video. Registration fields are written once when the
// device reports the upload; the ai_* fields belong to the annotation
// pipeline.
type Media struct {
	ID              string          `json:"id"`
	StorageURL      string          `json:"storageUrl"`
	LocationID      string          `json:"locationId,omitempty"`
	JobID           string          `json:"jobId,omitempty"`
	FileName        string          `json:"fileName,omitempty"`
	FileSize        int64           `json:"fileSize,omitempty"`
	MimeType        string          `json:"mimeType,omitempty"`
	DurationSeconds *int            `json:"durationSeconds,omitempty"`
	AIStatus        AIStatus        `json:"aiStatus"`
	AIAnnotations   json.RawMessage `json:"aiAnnotations,omitempty"`
	AIError         *string         `json:"aiError,omitempty"`
	AIProcessedAt   *time.Time      `json:"aiProcessedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}
