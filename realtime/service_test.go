package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

type fakeSessionSource struct {
	err     error
	push    func([]models.Session)
	stopped int
}

func (f *fakeSessionSource) Subscribe(_ context.Context, push func([]models.Session)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.push = push
	return func() { f.stopped++ }, nil
}

type fakeEventSource struct {
	err     error
	push    func([]models.Event)
	stopped int
}

func (f *fakeEventSource) Subscribe(_ context.Context, push func([]models.Event)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.push = push
	return func() { f.stopped++ }, nil
}

type fakeSessionReader struct {
	mu       sync.Mutex
	err      error
	sessions []models.Session
	count    int
	avg      float64
}

func (f *fakeSessionReader) ActiveSessions(context.Context, time.Time, int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, f.err
}

func (f *fakeSessionReader) UserSessionStats(context.Context, string, time.Time) (int, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.avg, f.err
}

type fakeEventReader struct {
	mu           sync.Mutex
	err          error
	events       []models.Event
	pages        []models.PageActivity
	features     []models.FeatureActivity
	pageViews    uint64
	interactions uint64
	pageCalls    int
}

func (f *fakeEventReader) RecentEvents(context.Context, time.Duration, int) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, f.err
}

func (f *fakeEventReader) PageActivity(context.Context, time.Time, int) ([]models.PageActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	return f.pages, f.err
}

func (f *fakeEventReader) FeatureActivity(context.Context, time.Time, int) ([]models.FeatureActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.features, f.err
}

func (f *fakeEventReader) UserEventCounts(context.Context, string, time.Time) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageViews, f.interactions, f.err
}

func (f *fakeEventReader) pageActivityCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls
}

func newTestService() (*Service, *fakeSessionSource, *fakeEventSource, *fakeSessionReader, *fakeEventReader) {
	ss := &fakeSessionSource{}
	es := &fakeEventSource{}
	sr := &fakeSessionReader{}
	er := &fakeEventReader{
		pages:    []models.PageActivity{{Page: "/patients", Views: 40}},
		features: []models.FeatureActivity{{Feature: "export", Uses: 7}},
	}
	return NewService(ss, es, sr, er), ss, es, sr, er
}

func TestService_SnapshotUpdatesOnPush(t *testing.T) {
	svc, ss, es, _, _ := newTestService()
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.StopMonitoring()

	if svc.Snapshot() != nil {
		t.Fatal("expected no snapshot before the first push")
	}

	ss.push([]models.Session{
		{ID: "s1", UserRole: "physician", StartTime: time.Now().UTC()},
		{ID: "s2", UserRole: "nurse", StartTime: time.Now().UTC()},
	})
	es.push([]models.Event{{ID: "e1", Type: models.EventPageView}})

	snap := svc.Snapshot()
	if snap == nil {
		t.Fatal("expected a snapshot after pushes")
	}
	if snap.ActiveUsers != 2 {
		t.Errorf("ActiveUsers = %d, want 2", snap.ActiveUsers)
	}
	if snap.UsersByRole["physician"] != 1 || snap.UsersByRole["nurse"] != 1 {
		t.Errorf("UsersByRole = %v", snap.UsersByRole)
	}
	if len(snap.RecentEvents) != 1 {
		t.Errorf("RecentEvents length = %d, want 1", len(snap.RecentEvents))
	}
	// Heavy aggregates come from the store scan on the first recompute.
	if len(snap.TopPages) != 1 || snap.TopPages[0].Page != "/patients" {
		t.Errorf("TopPages = %v", snap.TopPages)
	}
	if len(snap.TopFeatures) != 1 || snap.TopFeatures[0].Feature != "export" {
		t.Errorf("TopFeatures = %v", snap.TopFeatures)
	}
}

func TestService_HeavyAggregatesDebounced(t *testing.T) {
	svc, ss, _, _, er := newTestService()
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.StopMonitoring()

	for i := 0; i < 5; i++ {
		ss.push([]models.Session{{ID: "s1", StartTime: time.Now().UTC()}})
	}

	if calls := er.pageActivityCalls(); calls != 1 {
		t.Fatalf("expected a single heavy scan across rapid pushes, got %d", calls)
	}
	// Cheap fields still refreshed every push while heavy values persist.
	snap := svc.Snapshot()
	if snap == nil || len(snap.TopPages) != 1 {
		t.Fatalf("heavy aggregates lost between scans: %+v", snap)
	}
}

func TestService_LateSubscriberGetsReplay(t *testing.T) {
	svc, ss, _, _, _ := newTestService()
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.StopMonitoring()

	ss.push([]models.Session{{ID: "s1", StartTime: time.Now().UTC()}})

	var got []models.RealTimeActivity
	unsubscribe := svc.Subscribe(func(a models.RealTimeActivity) {
		got = append(got, a)
	})
	defer unsubscribe()

	if len(got) != 1 {
		t.Fatalf("expected an immediate replay, got %d calls", len(got))
	}
	if got[0].ActiveUsers != 1 {
		t.Errorf("replayed ActiveUsers = %d, want 1", got[0].ActiveUsers)
	}

	ss.push([]models.Session{{ID: "s1", StartTime: time.Now().UTC()}, {ID: "s2", StartTime: time.Now().UTC()}})
	if len(got) != 2 {
		t.Fatalf("expected an update after the next push, got %d calls", len(got))
	}
	if got[1].ActiveUsers != 2 {
		t.Errorf("updated ActiveUsers = %d, want 2", got[1].ActiveUsers)
	}
}

func TestService_UnsubscribeStopsUpdates(t *testing.T) {
	svc, ss, _, _, _ := newTestService()
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.StopMonitoring()

	calls := 0
	unsubscribe := svc.Subscribe(func(models.RealTimeActivity) { calls++ })
	ss.push([]models.Session{{ID: "s1", StartTime: time.Now().UTC()}})
	if calls != 1 {
		t.Fatalf("expected 1 call before unsubscribe, got %d", calls)
	}

	unsubscribe()
	ss.push([]models.Session{{ID: "s1", StartTime: time.Now().UTC()}})
	if calls != 1 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
}

func TestService_StartMonitoringIdempotent(t *testing.T) {
	svc, ss, es, _, _ := newTestService()
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error on second start: %v", err)
	}

	svc.StopMonitoring()
	svc.StopMonitoring()

	if ss.stopped != 1 || es.stopped != 1 {
		t.Fatalf("expected each subscription stopped exactly once, got %d/%d", ss.stopped, es.stopped)
	}
}

func TestService_StartMonitoringRollsBackOnError(t *testing.T) {
	svc, ss, es, _, _ := newTestService()
	es.err = errors.New("subscribe failed")

	if err := svc.StartMonitoring(context.Background()); err == nil {
		t.Fatal("expected an error when the event subscription fails")
	}
	if ss.stopped != 1 {
		t.Fatalf("expected the session subscription torn down, stopped=%d", ss.stopped)
	}

	// A later start must succeed once the source recovers.
	es.err = nil
	if err := svc.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	svc.StopMonitoring()
}

func TestService_QueriesDegradeToEmptyOnError(t *testing.T) {
	svc, _, _, sr, er := newTestService()
	sr.err = errors.New("postgres down")
	er.err = errors.New("clickhouse down")
	ctx := context.Background()

	if got := svc.ActiveSessions(ctx); got == nil || len(got) != 0 {
		t.Errorf("ActiveSessions = %v, want empty non-nil slice", got)
	}
	if got := svc.RecentEvents(ctx); got == nil || len(got) != 0 {
		t.Errorf("RecentEvents = %v, want empty non-nil slice", got)
	}
	if got := svc.PageActivity(ctx, 24); got == nil || len(got) != 0 {
		t.Errorf("PageActivity = %v, want empty non-nil slice", got)
	}
	if got := svc.FeatureActivity(ctx, 24); got == nil || len(got) != 0 {
		t.Errorf("FeatureActivity = %v, want empty non-nil slice", got)
	}

	metrics := svc.UserBehaviorMetrics(ctx, "u1", 7)
	if metrics.UserID != "u1" || metrics.Days != 7 {
		t.Errorf("metrics identity lost: %+v", metrics)
	}
	if metrics.EngagementScore != 0 || metrics.SessionCount != 0 {
		t.Errorf("expected zero metrics on error, got %+v", metrics)
	}
}

func TestService_UserBehaviorMetrics(t *testing.T) {
	svc, _, _, sr, er := newTestService()
	er.pageViews = 30
	er.interactions = 10
	sr.count = 4
	sr.avg = 310.5

	metrics := svc.UserBehaviorMetrics(context.Background(), "u1", 7)

	if metrics.PageViews != 30 || metrics.Interactions != 10 || metrics.SessionCount != 4 {
		t.Errorf("raw counts wrong: %+v", metrics)
	}
	if metrics.AvgSessionDuration != 310.5 {
		t.Errorf("AvgSessionDuration = %v", metrics.AvgSessionDuration)
	}
	want := models.EngagementScore(30, 10, 4, 7)
	if metrics.EngagementScore != want {
		t.Errorf("EngagementScore = %d, want %d", metrics.EngagementScore, want)
	}
}

func TestService_UserBehaviorMetricsClampsDays(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	metrics := svc.UserBehaviorMetrics(context.Background(), "u1", 0)
	if metrics.Days != 1 {
		t.Errorf("Days = %d, want 1", metrics.Days)
	}
}
