// Package training derives anonymized training records from annotated media
// and keeps exactly one record per source media item.
package training

import "time"

// Entry is the record downstream model training consumes. It never carries
// location, session or job identifiers.
type Entry struct {
	ID              string    `json:"id" bigquery:"id"`
	SourceMediaID   string    `json:"sourceMediaId" bigquery:"source_media_id"`
	VideoURL        string    `json:"videoUrl" bigquery:"video_url"`
	RoomType        *string   `json:"roomType" bigquery:"room_type"`
	ActionTypes     []string  `json:"actionTypes" bigquery:"action_types"`
	ObjectLabels    []string  `json:"objectLabels" bigquery:"object_labels"`
	TechniqueTags   []string  `json:"techniqueTags" bigquery:"technique_tags"`
	DurationSeconds *int64    `json:"durationSeconds" bigquery:"duration_seconds"`
	QualityScore    float64   `json:"qualityScore" bigquery:"quality_score"`
	CreatedAt       time.Time `json:"createdAt" bigquery:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" bigquery:"updated_at"`
}

func (e *Entry) normalize() {
	if e.ActionTypes == nil {
		e.ActionTypes = []string{}
	}
	if e.ObjectLabels == nil {
		e.ObjectLabels = []string{}
	}
	if e.TechniqueTags == nil {
		e.TechniqueTags = []string{}
	}
}
