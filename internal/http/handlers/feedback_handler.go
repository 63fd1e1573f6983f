// README: Feedback handler; accepts driver corrections and queues them for persistence.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vectra/internal/http/middleware"
	"vectra/internal/modules/feedback"
)

type Submitter interface {
	Submit(f feedback.Feedback) error
}

type FeedbackHandler struct {
	feedback Submitter
}

func NewFeedbackHandler(svc Submitter) *FeedbackHandler {
	return &FeedbackHandler{feedback: svc}
}

// Submit handles POST /feedback.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req feedback.Feedback
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	// On authenticated routes a driver may only speak for themselves.
	if uid := middleware.CallerUID(c); uid != "" && uid != req.DriverID {
		writeError(c, http.StatusForbidden, "forbidden: driver_id does not match authenticated user")
		return
	}
	if err := h.feedback.Submit(req); err != nil {
		writeFeedbackError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"status": "queued"})
}
