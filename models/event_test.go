package models

import (
	"testing"
	"time"
)

func TestCategoryFor(t *testing.T) {
	cases := []struct {
		eventType EventType
		want      EventCategory
	}{
		{EventPageView, CategoryNavigation},
		{EventRouteChange, CategoryNavigation},
		{EventFeatureClick, CategoryFeatureUsage},
		{EventSearchQuery, CategoryFeatureUsage},
		{EventPatientView, CategoryClinical},
		{EventPrescriptionCreate, CategoryClinical},
		{EventDashboardWidgetView, CategoryDashboard},
		{EventChartInteraction, CategoryDashboard},
		{EventSessionStart, CategorySystem},
		{EventSessionEnd, CategorySystem},
		{EventError, CategorySystem},
	}
	for _, tc := range cases {
		if got := CategoryFor(tc.eventType); got != tc.want {
			t.Errorf("CategoryFor(%s) = %s, want %s", tc.eventType, got, tc.want)
		}
	}
}

func TestCompactMap(t *testing.T) {
	in := map[string]any{
		"kept":       "value",
		"count":      0,
		"flag":       false,
		"nilValue":   nil,
		"emptyStr":   "",
		"emptyMap":   map[string]any{},
		"allPruned":  map[string]any{"inner": nil, "s": ""},
		"mixedInner": map[string]any{"keep": 42, "drop": ""},
	}

	out := CompactMap(in)

	if _, ok := out["nilValue"]; ok {
		t.Error("nil value survived compaction")
	}
	if _, ok := out["emptyStr"]; ok {
		t.Error("empty string survived compaction")
	}
	if _, ok := out["emptyMap"]; ok {
		t.Error("empty nested map survived compaction")
	}
	if _, ok := out["allPruned"]; ok {
		t.Error("fully pruned nested map survived compaction")
	}
	if out["kept"] != "value" {
		t.Error("non-empty string was dropped")
	}
	if out["count"] != 0 || out["flag"] != false {
		t.Error("zero-valued non-string fields must be kept")
	}
	inner, ok := out["mixedInner"].(map[string]any)
	if !ok {
		t.Fatal("nested map with live keys was dropped")
	}
	if inner["keep"] != 42 {
		t.Error("live nested key was dropped")
	}
	if _, ok := inner["drop"]; ok {
		t.Error("empty nested string survived compaction")
	}

	// Input untouched.
	if _, ok := in["nilValue"]; !ok {
		t.Error("CompactMap mutated its input")
	}
}

func TestCompactMap_Empty(t *testing.T) {
	if CompactMap(nil) != nil {
		t.Error("expected nil for nil input")
	}
	if CompactMap(map[string]any{}) != nil {
		t.Error("expected nil for empty input")
	}
	if CompactMap(map[string]any{"a": "", "b": nil}) != nil {
		t.Error("expected nil when every value is pruned")
	}
}

func TestEventDocument(t *testing.T) {
	ts := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	e := Event{
		UserID:    "u1",
		UserRole:  "physician",
		SessionID: "s1",
		Type:      EventFeatureClick,
		Category:  CategoryFeatureUsage,
		Timestamp: ts,
		Page:      "/patients",
		Feature:   "export",
		Data: map[string]any{
			"format": "csv",
			"filter": "",
			"extra":  nil,
		},
	}

	doc := e.Document()

	for _, key := range []string{"userId", "userRole", "sessionId", "eventType", "category", "timestamp", "page", "feature"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("expected %q in document", key)
		}
	}
	// Unset optional fields must be absent, not zero-valued.
	for _, key := range []string{"eventId", "component", "action", "device", "performance"} {
		if _, ok := doc[key]; ok {
			t.Errorf("unexpected %q in document for unset field", key)
		}
	}
	data, ok := doc["data"].(map[string]any)
	if !ok {
		t.Fatal("expected compacted data in document")
	}
	if data["format"] != "csv" {
		t.Error("live data key was dropped")
	}
	if _, ok := data["filter"]; ok {
		t.Error("empty data value survived sanitation")
	}
	if _, ok := data["extra"]; ok {
		t.Error("nil data value survived sanitation")
	}
}

func TestEventDocument_EmptyDataAbsent(t *testing.T) {
	e := Event{
		UserID:    "u1",
		SessionID: "s1",
		Type:      EventPageView,
		Category:  CategoryNavigation,
		Timestamp: time.Now(),
		Data:      map[string]any{"only": ""},
	}
	if _, ok := e.Document()["data"]; ok {
		t.Error("data bag that compacts to nothing must be absent")
	}
}
