package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/doorgate/internal/gate"
	"github.com/your-org/doorgate/pkg/dto"
)

// GateHandler exposes the three operations a door/camera pair invokes.
type GateHandler struct {
	svc *gate.Service
}

func NewGateHandler(svc *gate.Service) *GateHandler {
	return &GateHandler{svc: svc}
}

// Open handles the MCU announcing a credential read.
func (h *GateHandler) Open(c *gin.Context) {
	var req dto.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.svc.Open(c.Request.Context(), req.UID)
	if err != nil {
		if errors.Is(err, gate.ErrMissingUID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uid required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The door firmware only understands yes/no.
	result := "no"
	if ok {
		result = "yes"
	}
	c.JSON(http.StatusOK, dto.OpenResponse{Result: result})
}

// Submit handles one camera frame. The body is the raw encoded image;
// uid and last arrive as query parameters.
func (h *GateHandler) Submit(c *gin.Context) {
	frame, err := c.GetRawData()
	if err != nil || len(frame) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame body required"})
		return
	}

	uid := c.Query("uid")
	last := boolQuery(c, "last")

	status, err := h.svc.Submit(c.Request.Context(), uid, frame, last)
	if err != nil {
		switch {
		case errors.Is(err, gate.ErrMissingUID):
			c.JSON(http.StatusBadRequest, gin.H{"error": "uid required"})
		case errors.Is(err, gate.ErrNoActiveSession):
			c.JSON(http.StatusNotFound, dto.SubmitResponse{Status: "no_session"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, dto.SubmitResponse{Status: string(status)})
}

// Result reports the session status for polling clients.
func (h *GateHandler) Result(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid required"})
		return
	}

	status := h.svc.Poll(uid)
	c.JSON(http.StatusOK, dto.ResultResponse{Status: string(status)})
}

func boolQuery(c *gin.Context, name string) bool {
	v := c.Query(name)
	return v == "1" || v == "true" || v == "yes"
}
