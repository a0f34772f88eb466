// Package store owns access to the two telemetry collections:
// user_analytics (ClickHouse, append-only events) and user_sessions
// (Postgres, mutable session rows), plus the users table.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kenton-clearsky/headachemd-telemetry/database"
	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

type AnalyticsStore struct {
	DB  *database.ClickHouseClient
	rdb *redis.Client
}

// NewAnalyticsStore wraps the ClickHouse connection. rdb may be nil, in
// which case change notifications are skipped.
func NewAnalyticsStore(chClient *database.ClickHouseClient, rdb *redis.Client) *AnalyticsStore {
	return &AnalyticsStore{DB: chClient, rdb: rdb}
}

// InsertEvents writes a batch of events into user_analytics. Events with
// no id get a server-assigned one, and every row gets a server-side
// created_at. After a successful send a change notification is published
// so live subscriptions can refresh.
func (s *AnalyticsStore) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO user_analytics (
			event_id, user_id, user_role, session_id, event_type, category,
			timestamp, page, component, feature, action, data,
			user_agent, platform, language, timezone,
			load_time_ms, render_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	createdAt := time.Now().UTC()
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}

		// The data bag is stored as JSON; nil values are stripped first
		// because the write contract forbids undefined fields.
		var dataJSON string
		if compact := models.CompactMap(event.Data); compact != nil {
			raw, err := json.Marshal(compact)
			if err != nil {
				log.Printf("Error marshaling event data (EventID: %s): %v", event.ID, err)
			} else {
				dataJSON = string(raw)
			}
		}

		var loadMs, renderMs int64
		if event.Performance != nil {
			loadMs = event.Performance.LoadTimeMs
			renderMs = event.Performance.RenderTimeMs
		}

		err := batch.Append(
			event.ID,
			event.UserID,
			event.UserRole,
			event.SessionID,
			string(event.Type),
			string(event.Category),
			event.Timestamp,
			event.Page,
			event.Component,
			event.Feature,
			event.Action,
			dataJSON,
			event.Device.UserAgent,
			event.Device.Platform,
			event.Device.Language,
			event.Device.Timezone,
			loadMs,
			renderMs,
			createdAt,
		)
		if err != nil {
			log.Printf("Error appending event to batch (EventID: %s): %v", event.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.notifyChanged(ctx, len(events))
	return nil
}

func (s *AnalyticsStore) notifyChanged(ctx context.Context, count int) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, database.EventsChangedChannel, count).Err(); err != nil {
		log.Printf("Warning: failed to publish event change notification: %v", err)
	}
}

// RecentEvents returns the newest events inside the window, newest first.
func (s *AnalyticsStore) RecentEvents(ctx context.Context, window time.Duration, limit int) ([]models.Event, error) {
	query := `
		SELECT event_id, user_id, user_role, session_id, event_type, category,
		       timestamp, page, component, feature, action, data
		FROM user_analytics
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, time.Now().UTC().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var results []models.Event
	for rows.Next() {
		var (
			e         models.Event
			eventType string
			category  string
			dataJSON  string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.UserRole, &e.SessionID, &eventType, &category,
			&e.Timestamp, &e.Page, &e.Component, &e.Feature, &e.Action, &dataJSON); err != nil {
			log.Printf("Error scanning row for recent events: %v", err)
			continue
		}
		e.Type = models.EventType(eventType)
		e.Category = models.EventCategory(category)
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
				log.Printf("Error decoding event data (EventID: %s): %v", e.ID, err)
			}
		}
		results = append(results, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during recent events query: %w", err)
	}
	return results, nil
}

// PageActivity aggregates page_view traffic per page since the given
// time, most-viewed first.
func (s *AnalyticsStore) PageActivity(ctx context.Context, since time.Time, limit int) ([]models.PageActivity, error) {
	query := `
		SELECT page,
		       count() AS views,
		       uniq(user_id) AS unique_users,
		       avg(JSONExtractFloat(toString(data), 'durationMs')) AS avg_duration_ms
		FROM user_analytics
		WHERE event_type = 'page_view' AND page != '' AND timestamp >= ?
		GROUP BY page
		ORDER BY views DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query page activity: %w", err)
	}
	defer rows.Close()

	var results []models.PageActivity
	for rows.Next() {
		var pa models.PageActivity
		if err := rows.Scan(&pa.Page, &pa.Views, &pa.UniqueUsers, &pa.AvgDurationMs); err != nil {
			log.Printf("Error scanning row for page activity: %v", err)
			continue
		}
		results = append(results, pa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during page activity query: %w", err)
	}
	return results, nil
}

// FeatureActivity aggregates feature_click usage per feature since the
// given time, most-used first.
func (s *AnalyticsStore) FeatureActivity(ctx context.Context, since time.Time, limit int) ([]models.FeatureActivity, error) {
	query := `
		SELECT feature,
		       any(component) AS component,
		       count() AS uses,
		       uniq(user_id) AS unique_users
		FROM user_analytics
		WHERE event_type = 'feature_click' AND feature != '' AND timestamp >= ?
		GROUP BY feature
		ORDER BY uses DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature activity: %w", err)
	}
	defer rows.Close()

	var results []models.FeatureActivity
	for rows.Next() {
		var fa models.FeatureActivity
		if err := rows.Scan(&fa.Feature, &fa.Component, &fa.Uses, &fa.UniqueUsers); err != nil {
			log.Printf("Error scanning row for feature activity: %v", err)
			continue
		}
		results = append(results, fa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during feature activity query: %w", err)
	}
	return results, nil
}

// UserEventCounts returns the page_view and feature_click totals for one
// user since the given time. Used by the behavior-metrics drill-down.
func (s *AnalyticsStore) UserEventCounts(ctx context.Context, userID string, since time.Time) (pageViews, interactions uint64, err error) {
	query := `
		SELECT countIf(event_type = 'page_view') AS page_views,
		       countIf(event_type = 'feature_click') AS interactions
		FROM user_analytics
		WHERE user_id = ? AND timestamp >= ?
	`
	if err := s.DB.Conn.QueryRow(ctx, query, userID, since).Scan(&pageViews, &interactions); err != nil {
		return 0, 0, fmt.Errorf("failed to query user event counts: %w", err)
	}
	return pageViews, interactions, nil
}
