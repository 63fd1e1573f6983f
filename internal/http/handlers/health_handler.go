package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	env string
}

func NewHealthHandler(env string) *HealthHandler {
	return &HealthHandler{env: env}
}

func (h *HealthHandler) Health(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok", "env": h.env})
}
