// Package realtime maintains a continuously fresh activity snapshot from
// live feeds over the telemetry stores and republishes it to local
// subscribers.
package realtime

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenton-clearsky/headachemd-telemetry/database"
	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

// SessionReader is the session side of the store consumed by the service,
// satisfied by store.SessionStore.
type SessionReader interface {
	ActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]models.Session, error)
	UserSessionStats(ctx context.Context, userID string, since time.Time) (int, float64, error)
}

// EventReader is the event side, satisfied by store.AnalyticsStore.
type EventReader interface {
	RecentEvents(ctx context.Context, window time.Duration, limit int) ([]models.Event, error)
	PageActivity(ctx context.Context, since time.Time, limit int) ([]models.PageActivity, error)
	FeatureActivity(ctx context.Context, since time.Time, limit int) ([]models.FeatureActivity, error)
	UserEventCounts(ctx context.Context, userID string, since time.Time) (uint64, uint64, error)
}

// SessionSource is a live subscription over active sessions: push receives
// the FULL current result set whenever the underlying data changes. The
// returned stop function tears the subscription down and is safe to call
// more than once.
type SessionSource interface {
	Subscribe(ctx context.Context, push func([]models.Session)) (stop func(), err error)
}

// EventSource is the live subscription over recent events.
type EventSource interface {
	Subscribe(ctx context.Context, push func([]models.Event)) (stop func(), err error)
}

const (
	sessionWindow   = 5 * time.Minute
	sessionCap      = 50
	eventWindow     = 10 * time.Minute
	eventCap        = 100
	refreshInterval = 15 * time.Second
	queryTimeout    = 10 * time.Second
)

// StoreSessionSource implements SessionSource over the session store. A
// Redis change notification triggers an immediate requery; the refresh
// ticker covers missed notifications, since pub/sub is best-effort.
type StoreSessionSource struct {
	Reader SessionReader
	RDB    *redis.Client
}

func (s *StoreSessionSource) Subscribe(ctx context.Context, push func([]models.Session)) (func(), error) {
	query := func() {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()
		sessions, err := s.Reader.ActiveSessions(qctx, time.Now().UTC().Add(-sessionWindow), sessionCap)
		if err != nil {
			// Keep the last pushed result set in place.
			log.Printf("Warning: session feed query failed: %v", err)
			return
		}
		push(sessions)
	}
	return runFeed(ctx, s.RDB, database.SessionsChangedChannel, query)
}

// StoreEventSource implements EventSource over the analytics store.
type StoreEventSource struct {
	Reader EventReader
	RDB    *redis.Client
}

func (s *StoreEventSource) Subscribe(ctx context.Context, push func([]models.Event)) (func(), error) {
	query := func() {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()
		events, err := s.Reader.RecentEvents(qctx, eventWindow, eventCap)
		if err != nil {
			log.Printf("Warning: event feed query failed: %v", err)
			return
		}
		push(events)
	}
	return runFeed(ctx, s.RDB, database.EventsChangedChannel, query)
}

// runFeed drives one live subscription: an initial query, then a requery
// on every change notification and on the refresh tick.
func runFeed(ctx context.Context, rdb *redis.Client, channel string, query func()) (func(), error) {
	sub := rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		query()

		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				query()
			case <-ticker.C:
				query()
			}
		}
	}()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		if err := sub.Close(); err != nil {
			log.Printf("Warning: failed to close %s subscription: %v", channel, err)
		}
	}
	return stop, nil
}
