package models

import "time"

// RealTimeActivity is the rolling snapshot maintained by the aggregation
// service. Subscribers receive it by value and must not assume it reflects
// writes newer than LastUpdated.
type RealTimeActivity struct {
	ActiveSessions         []Session         `json:"activeSessions"`
	RecentEvents           []Event           `json:"recentEvents"`
	ActiveUsers            int               `json:"activeUsers"`
	UsersByRole            map[string]int    `json:"usersByRole"`
	AverageSessionDuration float64           `json:"averageSessionDuration"` // seconds
	TopPages               []PageActivity    `json:"topPages"`
	TopFeatures            []FeatureActivity `json:"topFeatures"`
	LastUpdated            time.Time         `json:"lastUpdated"`
}

// PageActivity summarizes page_view traffic for one page over a window.
type PageActivity struct {
	Page          string  `json:"page"`
	Views         uint64  `json:"views"`
	UniqueUsers   uint64  `json:"uniqueUsers"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// FeatureActivity summarizes feature_click usage for one feature.
type FeatureActivity struct {
	Feature     string `json:"feature"`
	Component   string `json:"component,omitempty"`
	Uses        uint64 `json:"uses"`
	UniqueUsers uint64 `json:"uniqueUsers"`
}

// UserBehaviorMetrics is a per-user drill-down computed on demand from a
// time-windowed scan; it is never persisted.
type UserBehaviorMetrics struct {
	UserID             string  `json:"userId"`
	Days               int     `json:"days"`
	SessionCount       int     `json:"sessionCount"`
	PageViews          int     `json:"pageViews"`
	Interactions       int     `json:"interactions"`
	AvgSessionDuration float64 `json:"avgSessionDuration"` // seconds
	EngagementScore    int     `json:"engagementScore"`
}

// EngagementScore derives a bounded 0-100 heuristic from raw activity
// counts. It is deliberately simple and monotonic, not calibrated.
func EngagementScore(pageViews, interactions, sessionCount, days int) int {
	if days < 1 {
		days = 1
	}
	score := (pageViews*2 + interactions*3 + sessionCount*5) / days
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}
