package dto

import "github.com/google/uuid"

type AccessEventResponse struct {
	ID           uuid.UUID `json:"id"`
	UID          string    `json:"uid"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	BestDistance float64   `json:"best_distance"`
	LastFrame    bool      `json:"last_frame"`
	FrameURL     string    `json:"frame_url,omitempty"`
	OccurredAt   string    `json:"occurred_at"`
	CreatedAt    string    `json:"created_at"`
}

// WSEvent wraps an access event for the live dashboard feed.
type WSEvent struct {
	Type string              `json:"type"`
	UID  string              `json:"uid"`
	Data AccessEventResponse `json:"data"`
}
