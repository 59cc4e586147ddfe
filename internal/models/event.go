package models

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventOpen       EventKind = "open"
	EventOpenDenied EventKind = "open_denied"
	EventFrame      EventKind = "frame"
)

// AccessEvent is one audit record from the gating pipeline: a session
// being opened (or denied), or a frame being evaluated. Recording is
// best-effort; losing an event never fails the gate.
type AccessEvent struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UID          string    `json:"uid" db:"uid"`
	Kind         EventKind `json:"kind" db:"kind"`
	Status       string    `json:"status" db:"status"`
	BestDistance float64   `json:"best_distance" db:"best_distance"`
	LastFrame    bool      `json:"last_frame" db:"last_frame"`
	FrameKey     string    `json:"frame_key,omitempty" db:"frame_key"`
	OccurredAt   time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
