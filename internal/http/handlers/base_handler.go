// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vectra/internal/modules/feedback"
	"vectra/internal/modules/location"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeLocationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrNotFound):
		writeError(c, http.StatusNotFound, location.ErrNotFound.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeFeedbackError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feedback.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, feedback.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, "shutting down")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
