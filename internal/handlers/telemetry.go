package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary      Telemetry snapshot
// @Description  Latest reading per channel (-1 until the first reading lands), parse skip count and run status.
// @Tags         telemetry
// @Produce      json
// @Success      200  {object}  service.Snapshot
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/telemetry [get]
// @Security     BearerAuth
func (h *Handler) getTelemetry(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Monitoring.Snapshot(c.Request.Context()))
}
