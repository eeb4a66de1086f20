package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

// Status values are persisted and sent to clients as-is.
const (
	StatusProcessing DocumentStatus = "processando"
	StatusCompleted  DocumentStatus = "concluido"
	StatusFailed     DocumentStatus = "erro"
)

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a processing run.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is an uploaded lecture PDF and the state of its audio generation.
// AudioPath is set only while Status is StatusCompleted.
type Document struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	LessonID    uuid.UUID      `json:"lesson_id"`
	Filename    string         `json:"filename"`
	StoragePath string         `json:"-"`
	Description *string        `json:"description,omitempty"`
	Transcript  *string        `json:"transcript,omitempty"`
	AudioPath   *string        `json:"-"`
	AudioS3Key  *string        `json:"-"`
	Status      DocumentStatus `json:"status"`
	Error       *string        `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasAudio reports whether the record points at generated audio.
func (d *Document) HasAudio() bool {
	return d.AudioPath != nil && *d.AudioPath != ""
}

// HasTranscript reports whether a transcript was already persisted.
func (d *Document) HasTranscript() bool {
	return d.Transcript != nil && *d.Transcript != ""
}

// DocumentPublic is the API view of a document.
type DocumentPublic struct {
	*Document
	HasAudio bool `json:"has_audio"`
	Mirrored bool `json:"mirrored"`
}

// ToPublic converts Document to DocumentPublic.
func (d *Document) ToPublic() DocumentPublic {
	return DocumentPublic{
		Document: d,
		HasAudio: d.HasAudio(),
		Mirrored: d.AudioS3Key != nil && *d.AudioS3Key != "",
	}
}
