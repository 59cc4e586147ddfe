package models

import "time"

// Reference is the face on file for one identity key. At most one
// reference exists per UID.
type Reference struct {
	UID       string    `json:"uid" db:"uid"`
	Embedding []float32 `json:"-" db:"embedding"`
	SourceKey string    `json:"source_key" db:"source_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
