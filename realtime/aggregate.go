package realtime

import (
	"time"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

// deriveActivity computes the cheap snapshot fields straight from the two
// feed payloads. Pure: feeds in, snapshot out, heavy aggregates untouched.
func deriveActivity(sessions []models.Session, events []models.Event, now time.Time) models.RealTimeActivity {
	byRole := make(map[string]int)
	var totalDuration float64
	for _, s := range sessions {
		byRole[s.UserRole]++
		if s.EndTime != nil {
			totalDuration += float64(s.Duration)
		} else {
			totalDuration += now.Sub(s.StartTime).Seconds()
		}
	}

	var avg float64
	if len(sessions) > 0 {
		avg = totalDuration / float64(len(sessions))
	}

	return models.RealTimeActivity{
		ActiveSessions:         sessions,
		RecentEvents:           events,
		ActiveUsers:            len(sessions),
		UsersByRole:            byRole,
		AverageSessionDuration: avg,
		LastUpdated:            now,
	}
}
