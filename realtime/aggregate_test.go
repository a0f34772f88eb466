package realtime

import (
	"testing"
	"time"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

func TestDeriveActivity(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Minute)

	sessions := []models.Session{
		{ID: "s1", UserRole: "physician", StartTime: now.Add(-100 * time.Second)},
		{ID: "s2", UserRole: "physician", StartTime: now.Add(-10 * time.Minute), EndTime: &ended, Duration: 540},
		{ID: "s3", UserRole: "nurse", StartTime: now.Add(-200 * time.Second)},
	}
	events := []models.Event{
		{ID: "e1", Type: models.EventPageView},
		{ID: "e2", Type: models.EventFeatureClick},
	}

	got := deriveActivity(sessions, events, now)

	if got.ActiveUsers != 3 {
		t.Errorf("ActiveUsers = %d, want 3", got.ActiveUsers)
	}
	if got.UsersByRole["physician"] != 2 || got.UsersByRole["nurse"] != 1 {
		t.Errorf("UsersByRole = %v", got.UsersByRole)
	}
	// Open sessions count elapsed time, ended sessions their final duration.
	want := (100.0 + 540.0 + 200.0) / 3.0
	if got.AverageSessionDuration != want {
		t.Errorf("AverageSessionDuration = %v, want %v", got.AverageSessionDuration, want)
	}
	if len(got.RecentEvents) != 2 {
		t.Errorf("RecentEvents length = %d, want 2", len(got.RecentEvents))
	}
	if !got.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, now)
	}
	if got.TopPages != nil || got.TopFeatures != nil {
		t.Error("deriveActivity must leave heavy aggregates untouched")
	}
}

func TestDeriveActivity_Empty(t *testing.T) {
	got := deriveActivity(nil, nil, time.Now().UTC())
	if got.ActiveUsers != 0 {
		t.Errorf("ActiveUsers = %d, want 0", got.ActiveUsers)
	}
	if got.AverageSessionDuration != 0 {
		t.Errorf("AverageSessionDuration = %v, want 0", got.AverageSessionDuration)
	}
	if len(got.UsersByRole) != 0 {
		t.Errorf("UsersByRole = %v, want empty", got.UsersByRole)
	}
}
