package models

import "time"

// Session records one continuous span of user presence. It is mutated in
// place by the capture agent while active and finalized exactly once when
// the session ends.
type Session struct {
	ID           string     `json:"sessionId"`
	UserID       string     `json:"userId"`
	UserRole     string     `json:"userRole"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Duration     int64      `json:"duration,omitempty"` // seconds
	PageViews    int        `json:"pageViews"`
	Interactions int        `json:"interactions"`
	LastActivity time.Time  `json:"lastActivity"`
	IsActive     bool       `json:"isActive"`
	EntryPage    string     `json:"entryPage,omitempty"`
	ExitPage     string     `json:"exitPage,omitempty"`
	Referrer     string     `json:"referrer,omitempty"`
	Device       DeviceInfo `json:"device,omitempty"`
}

// Document renders the session as a store-bound map, omitting empty
// optional fields per the store's write contract.
func (s Session) Document() map[string]any {
	doc := map[string]any{
		"sessionId":    s.ID,
		"userId":       s.UserID,
		"userRole":     s.UserRole,
		"startTime":    s.StartTime,
		"pageViews":    s.PageViews,
		"interactions": s.Interactions,
		"lastActivity": s.LastActivity,
		"isActive":     s.IsActive,
	}
	if s.EndTime != nil {
		doc["endTime"] = *s.EndTime
		doc["duration"] = s.Duration
	}
	if s.EntryPage != "" {
		doc["entryPage"] = s.EntryPage
	}
	if s.ExitPage != "" {
		doc["exitPage"] = s.ExitPage
	}
	if s.Referrer != "" {
		doc["referrer"] = s.Referrer
	}
	if s.Device != (DeviceInfo{}) {
		doc["device"] = s.Device
	}
	return doc
}
