package models

import (
	"time"
)

// EventType identifies what kind of user action an event records.
type EventType string

const (
	EventPageView            EventType = "page_view"
	EventNavigation          EventType = "navigation"
	EventRouteChange         EventType = "route_change"
	EventFeatureClick        EventType = "feature_click"
	EventSearchQuery         EventType = "search_query"
	EventFilterApplied       EventType = "filter_applied"
	EventExportData          EventType = "export_data"
	EventDashboardWidgetView EventType = "dashboard_widget_view"
	EventDashboardFilter     EventType = "dashboard_filter_change"
	EventChartInteraction    EventType = "chart_interaction"
	EventPatientView         EventType = "patient_view"
	EventPatientSearch       EventType = "patient_search"
	EventPatientEdit         EventType = "patient_edit"
	EventTreatmentView       EventType = "treatment_view"
	EventAppointmentSchedule EventType = "appointment_schedule"
	EventPrescriptionCreate  EventType = "prescription_create"
	EventSessionStart        EventType = "session_start"
	EventSessionEnd          EventType = "session_end"
	EventError               EventType = "error_encountered"
)

// EventCategory groups event types for dashboard rollups.
type EventCategory string

const (
	CategoryNavigation   EventCategory = "navigation"
	CategoryFeatureUsage EventCategory = "feature_usage"
	CategoryClinical     EventCategory = "clinical_action"
	CategorySystem       EventCategory = "system"
	CategoryDashboard    EventCategory = "dashboard"
)

// DeviceInfo captures the client environment an event was observed in.
type DeviceInfo struct {
	UserAgent    string `json:"userAgent,omitempty"`
	Platform     string `json:"platform,omitempty"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
	Language     string `json:"language,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// Performance carries optional page timing measurements in milliseconds.
type Performance struct {
	LoadTimeMs   int64 `json:"loadTimeMs,omitempty"`
	RenderTimeMs int64 `json:"renderTimeMs,omitempty"`
}

// Event is one immutable, timestamped fact about user behavior. The ID is
// assigned on write by the store; everything else is set when the event is
// observed and never mutated afterwards.
type Event struct {
	ID          string         `json:"eventId"`
	UserID      string         `json:"userId"`
	UserRole    string         `json:"userRole"`
	SessionID   string         `json:"sessionId"`
	Type        EventType      `json:"eventType"`
	Category    EventCategory  `json:"category"`
	Timestamp   time.Time      `json:"timestamp"`
	Page        string         `json:"page,omitempty"`
	Component   string         `json:"component,omitempty"`
	Feature     string         `json:"feature,omitempty"`
	Action      string         `json:"action,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Device      DeviceInfo     `json:"device,omitempty"`
	Performance *Performance   `json:"performance,omitempty"`
	CreatedAt   time.Time      `json:"createdAt,omitempty"`
}

// CategoryFor returns the canonical category for an event type, so the
// agent and the ingest path cannot diverge on the grouping.
func CategoryFor(t EventType) EventCategory {
	switch t {
	case EventPageView, EventNavigation, EventRouteChange:
		return CategoryNavigation
	case EventFeatureClick, EventSearchQuery, EventFilterApplied, EventExportData:
		return CategoryFeatureUsage
	case EventPatientView, EventPatientSearch, EventPatientEdit,
		EventTreatmentView, EventAppointmentSchedule, EventPrescriptionCreate:
		return CategoryClinical
	case EventDashboardWidgetView, EventDashboardFilter, EventChartInteraction:
		return CategoryDashboard
	default:
		return CategorySystem
	}
}

// CompactMap returns a copy of m with nil values, empty strings, and empty
// nested maps removed. The store rejects documents carrying undefined
// fields, so every write path runs its data bag through this first.
func CompactMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
			out[k] = val
		case map[string]any:
			if nested := CompactMap(val); nested != nil {
				out[k] = nested
			}
		default:
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Document renders the event as a store-bound map with empty optional
// fields absent and all populated fields intact.
func (e Event) Document() map[string]any {
	doc := map[string]any{
		"userId":    e.UserID,
		"userRole":  e.UserRole,
		"sessionId": e.SessionID,
		"eventType": string(e.Type),
		"category":  string(e.Category),
		"timestamp": e.Timestamp,
	}
	if e.ID != "" {
		doc["eventId"] = e.ID
	}
	if e.Page != "" {
		doc["page"] = e.Page
	}
	if e.Component != "" {
		doc["component"] = e.Component
	}
	if e.Feature != "" {
		doc["feature"] = e.Feature
	}
	if e.Action != "" {
		doc["action"] = e.Action
	}
	if data := CompactMap(e.Data); data != nil {
		doc["data"] = data
	}
	if e.Device != (DeviceInfo{}) {
		doc["device"] = e.Device
	}
	if e.Performance != nil {
		doc["performance"] = *e.Performance
	}
	return doc
}
