package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kenton-clearsky/headachemd-telemetry/realtime"
	"github.com/kenton-clearsky/headachemd-telemetry/utils"
)

type StatsHandlers struct {
	Realtime *realtime.Service
}

func NewStatsHandlers(rt *realtime.Service) *StatsHandlers {
	return &StatsHandlers{Realtime: rt}
}

// GetPageActivity returns page_view rollups over the trailing hours
// (?hours=, default 24, max 720).
func (h *StatsHandlers) GetPageActivity(c *gin.Context) {
	hours, err := utils.ParseWindow(c.Query("hours"), 24, 720)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'hours' parameter. Must be a positive integer."})
		return
	}
	c.JSON(http.StatusOK, h.Realtime.PageActivity(c.Request.Context(), hours))
}

// GetFeatureActivity returns feature usage rollups over the trailing
// hours (?hours=, default 24, max 720).
func (h *StatsHandlers) GetFeatureActivity(c *gin.Context) {
	hours, err := utils.ParseWindow(c.Query("hours"), 24, 720)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'hours' parameter. Must be a positive integer."})
		return
	}
	c.JSON(http.StatusOK, h.Realtime.FeatureActivity(c.Request.Context(), hours))
}

// GetUserBehavior returns one user's behavior metrics over the trailing
// days (?days=, default 7, max 90).
func (h *StatsHandlers) GetUserBehavior(c *gin.Context) {
	days, err := utils.ParseWindow(c.Query("days"), 7, 90)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'days' parameter. Must be a positive integer."})
		return
	}
	userID := c.Param("id")
	c.JSON(http.StatusOK, h.Realtime.UserBehaviorMetrics(c.Request.Context(), userID, days))
}

// GetActiveSessions returns the sessions currently considered live.
func (h *StatsHandlers) GetActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.Realtime.ActiveSessions(c.Request.Context()))
}

// GetRecentEvents returns the recent event window.
func (h *StatsHandlers) GetRecentEvents(c *gin.Context) {
	c.JSON(http.StatusOK, h.Realtime.RecentEvents(c.Request.Context()))
}
