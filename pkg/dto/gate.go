package dto

// OpenRequest announces a credential read from the door MCU.
type OpenRequest struct {
	UID string `json:"uid" binding:"required"`
}

// OpenResponse keeps the MCU-facing vocabulary: "yes" when a session was
// opened or refreshed, "no" for an unknown identity.
type OpenResponse struct {
	Result string `json:"result"`
}

// SubmitResponse reports the session status after one frame evaluation:
// pending, matched, rejected, or no_session.
type SubmitResponse struct {
	Status string `json:"status"`
}

// ResultResponse is the poll answer: pending, matched, rejected, or
// absent.
type ResultResponse struct {
	Status string `json:"status"`
}
