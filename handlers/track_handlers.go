package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
	"github.com/kenton-clearsky/headachemd-telemetry/tracking"
)

type TrackHandlers struct {
	Events   tracking.EventWriter
	Sessions tracking.SessionWriter
}

func NewTrackHandlers(events tracking.EventWriter, sessions tracking.SessionWriter) *TrackHandlers {
	return &TrackHandlers{Events: events, Sessions: sessions}
}

// TrackEvents ingests a batch of events flushed by a browser-side agent.
// Identity comes from the authenticated request, not the payload, so a
// client cannot record under someone else's user.
func (h *TrackHandlers) TrackEvents(c *gin.Context) {
	var incoming []models.Event
	if err := c.ShouldBindJSON(&incoming); err != nil {
		log.Printf("Error binding incoming telemetry JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(incoming) == 0 {
		c.Status(http.StatusOK)
		return
	}

	userID := c.GetString("user_id")
	userRole := c.GetString("user_role")

	now := time.Now().UTC()
	events := make([]models.Event, 0, len(incoming))
	for _, event := range incoming {
		event.UserID = userID
		event.UserRole = userRole
		if event.Category == "" {
			event.Category = models.CategoryFor(event.Type)
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		event.Data = models.CompactMap(event.Data)
		events = append(events, event)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Events.InsertEvents(ctx, events); err != nil {
		log.Printf("Error inserting telemetry events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record events"})
		return
	}

	c.Status(http.StatusOK)
}

// UpsertSession writes the current state of a browser-side session.
func (h *TrackHandlers) UpsertSession(c *gin.Context) {
	var session models.Session
	if err := c.ShouldBindJSON(&session); err != nil {
		log.Printf("Error binding incoming session JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if session.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	session.UserID = c.GetString("user_id")
	session.UserRole = c.GetString("user_role")
	if session.StartTime.IsZero() {
		session.StartTime = time.Now().UTC()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = time.Now().UTC()
	}
	session.IsActive = true
	session.EndTime = nil

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Sessions.Upsert(ctx, &session); err != nil {
		log.Printf("Error upserting session %s: %v", session.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record session"})
		return
	}

	c.Status(http.StatusOK)
}

// EndSession performs the terminal write for a browser-side session.
func (h *TrackHandlers) EndSession(c *gin.Context) {
	var session models.Session
	if err := c.ShouldBindJSON(&session); err != nil {
		log.Printf("Error binding incoming session JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	session.ID = c.Param("id")
	session.UserID = c.GetString("user_id")
	session.UserRole = c.GetString("user_role")
	session.IsActive = false

	now := time.Now().UTC()
	if session.EndTime == nil {
		session.EndTime = &now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	if session.Duration == 0 && !session.StartTime.IsZero() {
		session.Duration = int64(session.EndTime.Sub(session.StartTime).Round(time.Second).Seconds())
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Sessions.Finalize(ctx, &session); err != nil {
		log.Printf("Error finalizing session %s: %v", session.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end session"})
		return
	}

	c.Status(http.StatusOK)
}
