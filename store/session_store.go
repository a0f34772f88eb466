package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenton-clearsky/headachemd-telemetry/database"
	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

type SessionStore struct {
	db  *sql.DB
	rdb *redis.Client
}

// NewSessionStore wraps the Postgres connection holding user_sessions.
// rdb may be nil, in which case change notifications are skipped.
func NewSessionStore(db *sql.DB, rdb *redis.Client) *SessionStore {
	return &SessionStore{db: db, rdb: rdb}
}

// Upsert writes the session's current state, creating the row on first
// write. Called at session start and on every flush so lastActivity and
// the running counters stay observable.
func (s *SessionStore) Upsert(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO user_sessions (
			session_id, user_id, user_role, start_time, page_views,
			interactions, last_activity, is_active, entry_page, referrer,
			user_agent, platform
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO UPDATE SET
			page_views = EXCLUDED.page_views,
			interactions = EXCLUDED.interactions,
			last_activity = EXCLUDED.last_activity,
			is_active = EXCLUDED.is_active;
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.UserRole, session.StartTime,
		session.PageViews, session.Interactions, session.LastActivity,
		session.IsActive, session.EntryPage, session.Referrer,
		session.Device.UserAgent, session.Device.Platform,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", session.ID, err)
	}

	s.notifyChanged(ctx, session.ID)
	return nil
}

// Finalize performs the terminal write for an ended session. The WHERE
// guard keeps a retried finalize from re-ending an already-ended row.
func (s *SessionStore) Finalize(ctx context.Context, session *models.Session) error {
	if session.EndTime == nil {
		return fmt.Errorf("cannot finalize session %s without an end time", session.ID)
	}
	query := `
		UPDATE user_sessions
		SET end_time = $2, duration = $3, page_views = $4, interactions = $5,
		    last_activity = $6, exit_page = $7, is_active = FALSE
		WHERE session_id = $1 AND is_active = TRUE;
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, *session.EndTime, session.Duration,
		session.PageViews, session.Interactions, session.LastActivity,
		session.ExitPage,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize session %s: %w", session.ID, err)
	}

	s.notifyChanged(ctx, session.ID)
	return nil
}

func (s *SessionStore) notifyChanged(ctx context.Context, sessionID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, database.SessionsChangedChannel, sessionID).Err(); err != nil {
		log.Printf("Warning: failed to publish session change notification: %v", err)
	}
}

// ActiveSessions returns sessions that are still open and were touched
// after the cutoff, most recently active first.
func (s *SessionStore) ActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error) {
	query := `
		SELECT session_id, user_id, user_role, start_time, end_time, duration,
		       page_views, interactions, last_activity, is_active,
		       entry_page, exit_page, referrer
		FROM user_sessions
		WHERE is_active = TRUE AND last_activity >= $1
		ORDER BY last_activity DESC
		LIMIT $2;
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var results []models.Session
	for rows.Next() {
		var (
			sess      models.Session
			endTime   sql.NullTime
			duration  sql.NullInt64
			entryPage sql.NullString
			exitPage  sql.NullString
			referrer  sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.UserRole, &sess.StartTime,
			&endTime, &duration, &sess.PageViews, &sess.Interactions,
			&sess.LastActivity, &sess.IsActive, &entryPage, &exitPage, &referrer); err != nil {
			log.Printf("Error scanning row for active sessions: %v", err)
			continue
		}
		if endTime.Valid {
			t := endTime.Time
			sess.EndTime = &t
		}
		sess.Duration = duration.Int64
		sess.EntryPage = entryPage.String
		sess.ExitPage = exitPage.String
		sess.Referrer = referrer.String
		results = append(results, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during active sessions query: %w", err)
	}
	return results, nil
}

// UserSessionStats returns the session count and average duration in
// seconds for one user since the given time. Open sessions contribute
// their elapsed time so far.
func (s *SessionStore) UserSessionStats(ctx context.Context, userID string, since time.Time) (count int, avgDuration float64, err error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(AVG(
		           CASE WHEN end_time IS NOT NULL THEN duration
		                ELSE EXTRACT(EPOCH FROM (NOW() - start_time))
		           END), 0)
		FROM user_sessions
		WHERE user_id = $1 AND start_time >= $2;
	`
	if err := s.db.QueryRowContext(ctx, query, userID, since).Scan(&count, &avgDuration); err != nil {
		return 0, 0, fmt.Errorf("failed to query user session stats: %w", err)
	}
	return count, avgDuration, nil
}
