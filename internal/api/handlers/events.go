package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/doorgate/internal/storage"
	"github.com/your-org/doorgate/pkg/dto"
)

// EventHandler serves the audit trail: access events from Postgres and
// archived frames from MinIO.
type EventHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewEventHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *EventHandler {
	return &EventHandler{db: db, minio: minio}
}

func (h *EventHandler) List(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event store not configured"})
		return
	}

	var from, to *time.Time
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = &t
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.db.QueryAccessEvents(c.Request.Context(), c.Query("uid"), c.Query("status"), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.AccessEventResponse, 0, len(events))
	for _, ev := range events {
		r := dto.AccessEventResponse{
			ID:           ev.ID,
			UID:          ev.UID,
			Kind:         string(ev.Kind),
			Status:       ev.Status,
			BestDistance: ev.BestDistance,
			LastFrame:    ev.LastFrame,
			OccurredAt:   ev.OccurredAt.Format(time.RFC3339),
			CreatedAt:    ev.CreatedAt.Format(time.RFC3339),
		}
		if ev.FrameKey != "" {
			r.FrameURL = "/v1/events/" + ev.ID.String() + "/frame"
		}
		resp = append(resp, r)
	}

	c.JSON(http.StatusOK, gin.H{"events": resp, "total": len(resp)})
}

// Frame serves the archived camera frame for one event.
func (h *EventHandler) Frame(c *gin.Context) {
	if h.db == nil || h.minio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "frame archive not configured"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetAccessEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil || ev.FrameKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame for event"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), ev.FrameKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}
