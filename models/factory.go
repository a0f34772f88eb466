package models

import "time"

// Factory helpers build fully-categorized events from the values the
// tracking calls collect. They are pure: no clock reads besides the
// timestamp argument, no I/O, no id assignment (the store owns ids).

func newEvent(t EventType, userID, userRole, sessionID string, at time.Time) Event {
	return Event{
		UserID:    userID,
		UserRole:  userRole,
		SessionID: sessionID,
		Type:      t,
		Category:  CategoryFor(t),
		Timestamp: at,
	}
}

// NewPageViewEvent builds a page_view event. When dwell is non-zero the
// event describes time spent on a page the user just left.
func NewPageViewEvent(userID, userRole, sessionID, page, previousPage string, dwell time.Duration, at time.Time) Event {
	e := newEvent(EventPageView, userID, userRole, sessionID, at)
	e.Page = page
	data := map[string]any{}
	if previousPage != "" {
		data["previousPage"] = previousPage
	}
	if dwell > 0 {
		data["durationMs"] = dwell.Milliseconds()
	}
	e.Data = CompactMap(data)
	return e
}

// NewFeatureEvent builds a feature_click event.
func NewFeatureEvent(userID, userRole, sessionID, feature, component, action string, extra map[string]any, at time.Time) Event {
	e := newEvent(EventFeatureClick, userID, userRole, sessionID, at)
	e.Feature = feature
	e.Component = component
	e.Action = action
	e.Data = CompactMap(extra)
	return e
}

// NewSearchEvent builds a search_query event. A negative resultCount means
// the count is unknown and is omitted from the data bag.
func NewSearchEvent(userID, userRole, sessionID, term string, resultCount int, at time.Time) Event {
	e := newEvent(EventSearchQuery, userID, userRole, sessionID, at)
	data := map[string]any{"searchTerm": term}
	if resultCount >= 0 {
		data["resultCount"] = resultCount
	}
	e.Data = data
	return e
}

// NewClinicalEvent builds a clinical action event (patient_view,
// treatment_view, prescription_create, ...). The caller picks the type.
func NewClinicalEvent(t EventType, userID, userRole, sessionID, action, resourceType, resourceID string, extra map[string]any, at time.Time) Event {
	e := newEvent(t, userID, userRole, sessionID, at)
	e.Action = action
	data := map[string]any{"resourceType": resourceType}
	if resourceID != "" {
		data["resourceId"] = resourceID
	}
	for k, v := range extra {
		data[k] = v
	}
	e.Data = CompactMap(data)
	return e
}

// NewErrorEvent builds an error_encountered event.
func NewErrorEvent(userID, userRole, sessionID, message, context string, at time.Time) Event {
	e := newEvent(EventError, userID, userRole, sessionID, at)
	data := map[string]any{"message": message}
	if context != "" {
		data["context"] = context
	}
	e.Data = data
	return e
}

// NewSessionLifecycleEvent builds a session_start or session_end event.
// End events carry the session's final counters and duration.
func NewSessionLifecycleEvent(t EventType, s *Session, reason string, at time.Time) Event {
	e := newEvent(t, s.UserID, s.UserRole, s.ID, at)
	e.Page = s.EntryPage
	data := map[string]any{}
	if t == EventSessionEnd {
		e.Page = s.ExitPage
		data["duration"] = s.Duration
		data["pageViews"] = s.PageViews
		data["interactions"] = s.Interactions
		if reason != "" {
			data["reason"] = reason
		}
	} else if s.Referrer != "" {
		data["referrer"] = s.Referrer
	}
	e.Data = CompactMap(data)
	return e
}
