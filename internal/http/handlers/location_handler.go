// README: Resolve handler; returns the navigation and entry point for an address geohash.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"vectra/internal/geo"
	"vectra/internal/modules/location"
)

type Resolver interface {
	Resolve(ctx context.Context, id string) (location.Resolution, error)
}

type LocationHandler struct {
	location Resolver
}

func NewLocationHandler(svc Resolver) *LocationHandler {
	return &LocationHandler{location: svc}
}

// Resolve handles GET /resolve/:id.
func (h *LocationHandler) Resolve(c *gin.Context) {
	id := c.Param("id")
	if !geo.IsGeohash(id) {
		writeError(c, http.StatusBadRequest, "invalid address id")
		return
	}
	res, err := h.location.Resolve(c.Request.Context(), id)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
