package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

const (
	// Heavy aggregates (top pages/features) need a full windowed scan, so
	// they refresh on a time debounce instead of on every push.
	heavyRefreshInterval = 30 * time.Second
	heavyWindow          = time.Hour
	heavyLimit           = 10
)

// Service keeps a rolling RealTimeActivity snapshot fed by the two live
// subscriptions and fans every update out to registered subscribers.
// Construct one per process at the composition root.
type Service struct {
	sessionSource SessionSource
	eventSource   EventSource
	sessions      SessionReader
	events        EventReader

	mu           sync.Mutex
	monitoring   bool
	stopSessions func()
	stopEvents   func()

	curSessions []models.Session
	curEvents   []models.Event
	snapshot    *models.RealTimeActivity
	lastHeavy   time.Time

	listeners  map[int]func(models.RealTimeActivity)
	nextListID int
}

// NewService wires the aggregation service. The sources deliver the live
// feeds; the readers serve one-shot drill-down queries and the heavy
// aggregates.
func NewService(sessionSource SessionSource, eventSource EventSource, sessions SessionReader, events EventReader) *Service {
	return &Service{
		sessionSource: sessionSource,
		eventSource:   eventSource,
		sessions:      sessions,
		events:        events,
		listeners:     make(map[int]func(models.RealTimeActivity)),
	}
}

// StartMonitoring opens both live subscriptions. Calling it while already
// monitoring is a no-op.
func (s *Service) StartMonitoring(ctx context.Context) error {
	s.mu.Lock()
	if s.monitoring {
		s.mu.Unlock()
		return nil
	}
	s.monitoring = true
	s.mu.Unlock()

	stopSessions, err := s.sessionSource.Subscribe(ctx, s.onSessions)
	if err != nil {
		s.mu.Lock()
		s.monitoring = false
		s.mu.Unlock()
		return err
	}

	stopEvents, err := s.eventSource.Subscribe(ctx, s.onEvents)
	if err != nil {
		stopSessions()
		s.mu.Lock()
		s.monitoring = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.stopSessions = stopSessions
	s.stopEvents = stopEvents
	s.mu.Unlock()

	log.Println("realtime: monitoring started")
	return nil
}

// StopMonitoring tears down both subscriptions and drops all listeners.
// Idempotent.
func (s *Service) StopMonitoring() {
	s.mu.Lock()
	if !s.monitoring {
		s.mu.Unlock()
		return
	}
	s.monitoring = false
	stopSessions, stopEvents := s.stopSessions, s.stopEvents
	s.stopSessions, s.stopEvents = nil, nil
	s.listeners = make(map[int]func(models.RealTimeActivity))
	s.mu.Unlock()

	if stopSessions != nil {
		stopSessions()
	}
	if stopEvents != nil {
		stopEvents()
	}
	log.Println("realtime: monitoring stopped")
}

// Subscribe registers a snapshot listener and returns its unsubscribe
// function. If a snapshot already exists the listener receives it
// immediately, so late subscribers never start blank.
func (s *Service) Subscribe(fn func(models.RealTimeActivity)) func() {
	s.mu.Lock()
	id := s.nextListID
	s.nextListID++
	s.listeners[id] = fn
	var replay *models.RealTimeActivity
	if s.snapshot != nil {
		copied := *s.snapshot
		replay = &copied
	}
	s.mu.Unlock()

	if replay != nil {
		fn(*replay)
	}

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current snapshot, or nil before the first
// feed push.
func (s *Service) Snapshot() *models.RealTimeActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	copied := *s.snapshot
	return &copied
}

func (s *Service) onSessions(sessions []models.Session) {
	s.mu.Lock()
	s.curSessions = sessions
	s.mu.Unlock()
	s.recompute()
}

func (s *Service) onEvents(events []models.Event) {
	s.mu.Lock()
	s.curEvents = events
	s.mu.Unlock()
	s.recompute()
}

// recompute rebuilds the snapshot from the latest feed payloads. Cheap
// fields are always fresh; top pages/features are re-scanned only when the
// last scan is older than heavyRefreshInterval.
func (s *Service) recompute() {
	now := time.Now().UTC()

	s.mu.Lock()
	refreshHeavy := now.Sub(s.lastHeavy) >= heavyRefreshInterval
	if refreshHeavy {
		s.lastHeavy = now
	}
	s.mu.Unlock()

	var topPages []models.PageActivity
	var topFeatures []models.FeatureActivity
	if refreshHeavy {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		var err error
		topPages, err = s.events.PageActivity(ctx, now.Add(-heavyWindow), heavyLimit)
		if err != nil {
			log.Printf("Warning: top pages recompute failed: %v", err)
			topPages = nil
		}
		topFeatures, err = s.events.FeatureActivity(ctx, now.Add(-heavyWindow), heavyLimit)
		if err != nil {
			log.Printf("Warning: top features recompute failed: %v", err)
			topFeatures = nil
		}
		cancel()
	}

	s.mu.Lock()
	next := deriveActivity(s.curSessions, s.curEvents, now)
	if s.snapshot != nil {
		next.TopPages = s.snapshot.TopPages
		next.TopFeatures = s.snapshot.TopFeatures
	}
	if topPages != nil {
		next.TopPages = topPages
	}
	if topFeatures != nil {
		next.TopFeatures = topFeatures
	}
	s.snapshot = &next
	listeners := make([]func(models.RealTimeActivity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// ActiveSessions is a one-shot scan independent of the live snapshot.
// Errors degrade to an empty result.
func (s *Service) ActiveSessions(ctx context.Context) []models.Session {
	sessions, err := s.sessions.ActiveSessions(ctx, time.Now().UTC().Add(-sessionWindow), sessionCap)
	if err != nil {
		log.Printf("Warning: active sessions query failed: %v", err)
		return []models.Session{}
	}
	return sessions
}

// RecentEvents is a one-shot scan of the recent event window.
func (s *Service) RecentEvents(ctx context.Context) []models.Event {
	events, err := s.events.RecentEvents(ctx, eventWindow, eventCap)
	if err != nil {
		log.Printf("Warning: recent events query failed: %v", err)
		return []models.Event{}
	}
	return events
}

// PageActivity scans page_view traffic over the trailing hours.
func (s *Service) PageActivity(ctx context.Context, hours int) []models.PageActivity {
	if hours < 1 {
		hours = 1
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	pages, err := s.events.PageActivity(ctx, since, heavyLimit)
	if err != nil {
		log.Printf("Warning: page activity query failed: %v", err)
		return []models.PageActivity{}
	}
	return pages
}

// FeatureActivity scans feature usage over the trailing hours.
func (s *Service) FeatureActivity(ctx context.Context, hours int) []models.FeatureActivity {
	if hours < 1 {
		hours = 1
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	features, err := s.events.FeatureActivity(ctx, since, heavyLimit)
	if err != nil {
		log.Printf("Warning: feature activity query failed: %v", err)
		return []models.FeatureActivity{}
	}
	return features
}

// UserBehaviorMetrics computes one user's drill-down over the trailing
// days, including the bounded engagement score. Errors degrade to empty
// metrics.
func (s *Service) UserBehaviorMetrics(ctx context.Context, userID string, days int) models.UserBehaviorMetrics {
	if days < 1 {
		days = 1
	}
	metrics := models.UserBehaviorMetrics{UserID: userID, Days: days}
	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	pageViews, interactions, err := s.events.UserEventCounts(ctx, userID, since)
	if err != nil {
		log.Printf("Warning: user event counts query failed for %s: %v", userID, err)
		return metrics
	}
	sessionCount, avgDuration, err := s.sessions.UserSessionStats(ctx, userID, since)
	if err != nil {
		log.Printf("Warning: user session stats query failed for %s: %v", userID, err)
		return metrics
	}

	metrics.PageViews = int(pageViews)
	metrics.Interactions = int(interactions)
	metrics.SessionCount = sessionCount
	metrics.AvgSessionDuration = avgDuration
	metrics.EngagementScore = models.EngagementScore(metrics.PageViews, metrics.Interactions, sessionCount, days)
	return metrics
}
