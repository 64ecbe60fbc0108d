package handlers

import (
	"net/http"

	"presence-service/internal/service"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presenceService *service.PresenceService
}

func NewPresenceHandler(presenceService *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// GetSnapshot returns the presence of every user visible to the caller's
// tenant. Read-only and retry-safe; used to seed clients before the push
// channel takes over, so short staleness is acceptable.
func (h *PresenceHandler) GetSnapshot(c *gin.Context) {
	tenantID := c.MustGet("tenant_id").(string)

	users, err := h.presenceService.Snapshot(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence snapshot"})
		return
	}

	c.Header("Cache-Control", "private, max-age=15")
	c.JSON(http.StatusOK, users)
}
