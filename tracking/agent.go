package tracking

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenton-clearsky/headachemd-telemetry/auth"
	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

// State is the agent lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "uninitialized"
	}
}

// EventWriter is the event side of the telemetry store, satisfied by
// store.AnalyticsStore.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []models.Event) error
}

// SessionWriter is the session side, satisfied by store.SessionStore.
type SessionWriter interface {
	Upsert(ctx context.Context, session *models.Session) error
	Finalize(ctx context.Context, session *models.Session) error
}

const writeTimeout = 15 * time.Second

// Agent observes user behavior for one process: it opens a session once an
// identity is available, buffers tracked events, flushes them in batches,
// and closes the session on idle timeout or an explicit end. Construct one
// per process at the composition root; tracking calls on an agent that
// never activated are no-ops.
type Agent struct {
	mu       sync.Mutex
	cfg      Config
	identity auth.Provider
	events   EventWriter
	sessions SessionWriter
	device   models.DeviceInfo

	state         State
	session       *models.Session
	currentPage   string
	pageEnteredAt time.Time

	queue   *Queue
	flushMu sync.Mutex
	now     func() time.Time

	flushTicker *time.Ticker
	idleTicker  *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewAgent builds an agent in the Uninitialized state.
func NewAgent(cfg Config, identity auth.Provider, events EventWriter, sessions SessionWriter) *Agent {
	return &Agent{
		cfg:      cfg.normalized(),
		identity: identity,
		events:   events,
		sessions: sessions,
		queue:    NewQueue(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetDevice records the client environment attached to the session and
// every event. Must be called before Start.
func (a *Agent) SetDevice(device models.DeviceInfo) {
	a.device = device
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Session returns a copy of the current session, or nil before activation.
func (a *Agent) Session() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	copied := *a.session
	return &copied
}

// Start transitions Uninitialized → Initializing → Active. It waits for
// the identity provider to resolve a user, opens the session, emits
// session_start, and starts the flush and idle timers. A disabled config
// or an unavailable identity leaves the agent dormant without error:
// telemetry must never block the host application.
func (a *Agent) Start(ctx context.Context, entryPage, referrer string) {
	a.mu.Lock()
	if a.state != StateUninitialized || !a.cfg.Enabled {
		a.mu.Unlock()
		return
	}
	a.state = StateInitializing
	a.mu.Unlock()

	user, err := a.identity.WaitForUser(ctx)
	if err != nil || user == nil {
		log.Printf("tracking: identity unavailable, agent stays dormant: %v", err)
		a.mu.Lock()
		a.state = StateUninitialized
		a.mu.Unlock()
		return
	}

	now := a.now()
	session := &models.Session{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		UserRole:     user.Role,
		StartTime:    now,
		LastActivity: now,
		IsActive:     true,
		EntryPage:    entryPage,
		Referrer:     referrer,
		Device:       a.device,
	}

	a.mu.Lock()
	a.session = session
	a.currentPage = entryPage
	a.pageEnteredAt = now
	// The timers must exist before the state goes Active: UpdateConfig
	// resets them as soon as it observes an active agent.
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)
	a.idleTicker = time.NewTicker(a.cfg.IdleCheckInterval)
	a.stopChan = make(chan struct{})
	a.state = StateActive
	a.mu.Unlock()

	// Initial session write. A failure here is logged and retried on the
	// next flush; it does not keep the agent from activating.
	snapshot := *session
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	if err := a.sessions.Upsert(wctx, &snapshot); err != nil {
		log.Printf("Warning: failed to write session start for %s: %v", session.ID, err)
	}
	cancel()

	a.enqueue(models.NewSessionLifecycleEvent(models.EventSessionStart, session, "", now), true)

	a.wg.Add(1)
	go a.run()

	log.Printf("tracking: session %s started for user %s (%s)", session.ID, user.ID, user.Role)
}

func (a *Agent) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.flushTicker.C:
			a.Flush()
		case <-a.idleTicker.C:
			a.checkIdle()
		case <-a.stopChan:
			return
		}
	}
}

func sampledIn(rate float64) bool {
	return rand.Float64() < rate
}

// enqueue applies exclusion and sampling, then buffers the event. Returns
// true only when the event was actually queued, so callers tie counter
// increments to emitted events.
func (a *Agent) enqueue(e models.Event, applySampling bool) bool {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return false
	}
	cfg := a.cfg
	a.mu.Unlock()

	if cfg.eventExcluded(string(e.Type)) {
		return false
	}
	if applySampling && !sampledIn(cfg.SampleRate) {
		return false
	}

	e.Device = a.device
	a.queue.Enqueue(e)
	if a.queue.Len() >= cfg.BatchSize {
		go a.Flush()
	}
	return true
}

func (a *Agent) touch() {
	a.mu.Lock()
	if a.state == StateActive && a.session != nil {
		a.session.LastActivity = a.now()
	}
	a.mu.Unlock()
}

// NotifyActivity records passive user input (pointer, keyboard, scroll,
// touch). It feeds the idle-timeout clock without enqueuing an event.
func (a *Agent) NotifyActivity() {
	a.touch()
}

// NotifyHidden signals that the host UI went to the background. The queue
// is flushed best-effort: the write is attempted but not awaited.
func (a *Agent) NotifyHidden() {
	a.touch()
	go a.Flush()
}

// TrackPageView records navigation to page. If the previous page was
// dwelled on for longer than MinPageDwell, a page_view event carrying that
// duration is emitted for it first. perf may be nil; timings are dropped
// when performance tracking is disabled.
func (a *Agent) TrackPageView(page, previousPage string, perf *models.Performance) {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return
	}
	now := a.now()
	cfg := a.cfg
	sess := a.session
	prev := previousPage
	if prev == "" {
		prev = a.currentPage
	}
	dwell := now.Sub(a.pageEnteredAt)
	a.currentPage = page
	a.pageEnteredAt = now
	sess.LastActivity = now
	uid, role, sid := sess.UserID, sess.UserRole, sess.ID
	a.mu.Unlock()

	if prev != "" && prev != page && dwell > cfg.MinPageDwell && !cfg.pageExcluded(prev) {
		a.enqueue(models.NewPageViewEvent(uid, role, sid, prev, "", dwell, now), true)
	}

	if cfg.pageExcluded(page) {
		return
	}
	e := models.NewPageViewEvent(uid, role, sid, page, prev, 0, now)
	if perf != nil && cfg.EnablePerformanceTracking {
		p := *perf
		e.Performance = &p
	}
	if a.enqueue(e, true) {
		a.mu.Lock()
		a.session.PageViews++
		a.mu.Unlock()
	}
}

// TrackFeatureUsage records a feature interaction.
func (a *Agent) TrackFeatureUsage(feature, component, action string, extra map[string]any) {
	uid, role, sid, ok := a.identitySnapshot()
	if !ok {
		return
	}
	a.touch()
	if a.enqueue(models.NewFeatureEvent(uid, role, sid, feature, component, action, extra, a.now()), true) {
		a.mu.Lock()
		a.session.Interactions++
		a.mu.Unlock()
	}
}

// TrackSearch records a search query. Pass a negative resultCount when the
// count is unknown.
func (a *Agent) TrackSearch(term string, resultCount int) {
	uid, role, sid, ok := a.identitySnapshot()
	if !ok {
		return
	}
	a.touch()
	a.enqueue(models.NewSearchEvent(uid, role, sid, term, resultCount, a.now()), true)
}

// TrackClinicalAction records a clinical action. action is one of the
// clinical event types (patient_view, treatment_view, prescription_create,
// ...).
func (a *Agent) TrackClinicalAction(action, resourceType, resourceID string, extra map[string]any) {
	uid, role, sid, ok := a.identitySnapshot()
	if !ok {
		return
	}
	a.touch()
	a.enqueue(models.NewClinicalEvent(models.EventType(action), uid, role, sid, action, resourceType, resourceID, extra, a.now()), true)
}

// TrackError records an application error. Honors EnableErrorTracking and
// is exempt from sampling.
func (a *Agent) TrackError(err error, errContext string) {
	if err == nil {
		return
	}
	a.mu.Lock()
	enabled := a.cfg.EnableErrorTracking
	a.mu.Unlock()
	if !enabled {
		return
	}
	uid, role, sid, ok := a.identitySnapshot()
	if !ok {
		return
	}
	a.enqueue(models.NewErrorEvent(uid, role, sid, err.Error(), errContext, a.now()), false)
}

func (a *Agent) identitySnapshot() (userID, role, sessionID string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateActive || a.session == nil {
		return "", "", "", false
	}
	return a.session.UserID, a.session.UserRole, a.session.ID, true
}

// Flush drains the queue and writes the batch to the event store, then
// syncs the live session row. A failed write re-queues the whole batch at
// the front for the next attempt: duplicates are accepted, losses are not.
func (a *Agent) Flush() {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	batch := a.queue.Drain()
	if len(batch) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := a.events.InsertEvents(ctx, batch)
		cancel()
		if err != nil {
			log.Printf("Warning: event flush failed, re-queuing %d events: %v", len(batch), err)
			a.queue.Requeue(batch)
			return
		}
	}

	a.syncSession()
}

func (a *Agent) syncSession() {
	a.mu.Lock()
	if a.session == nil || !a.session.IsActive {
		a.mu.Unlock()
		return
	}
	snapshot := *a.session
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.sessions.Upsert(ctx, &snapshot); err != nil {
		log.Printf("Warning: failed to sync session %s: %v", snapshot.ID, err)
	}
}

func (a *Agent) checkIdle() {
	a.mu.Lock()
	idle := a.state == StateActive && a.session != nil &&
		a.now().Sub(a.session.LastActivity) >= a.cfg.IdleTimeout
	a.mu.Unlock()
	if idle {
		// End waits for the run goroutine, which is the caller here, so
		// the transition has to happen off it.
		go a.End("idle_timeout")
	}
}

// End transitions the agent to the terminal Ended state: it computes the
// session duration, emits exactly one session_end event, force-flushes the
// queue, and finalizes the session with exactly one terminal write.
// Calling End more than once is a no-op.
func (a *Agent) End(reason string) {
	a.mu.Lock()
	if a.state != StateActive {
		a.mu.Unlock()
		return
	}
	a.state = StateEnded
	now := a.now()
	sess := a.session
	end := now
	sess.EndTime = &end
	sess.Duration = int64(now.Sub(sess.StartTime).Round(time.Second).Seconds())
	sess.IsActive = false
	sess.LastActivity = now
	sess.ExitPage = a.currentPage
	cfg := a.cfg
	endEvent := models.NewSessionLifecycleEvent(models.EventSessionEnd, sess, reason, now)
	endEvent.Device = a.device
	snapshot := *sess
	a.mu.Unlock()

	if a.stopChan != nil {
		close(a.stopChan)
		a.wg.Wait()
		a.flushTicker.Stop()
		a.idleTicker.Stop()
	}

	if !cfg.eventExcluded(string(models.EventSessionEnd)) && sampledIn(cfg.SampleRate) {
		a.queue.Enqueue(endEvent)
	}
	a.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.sessions.Finalize(ctx, &snapshot); err != nil {
		log.Printf("Warning: failed to finalize session %s: %v", snapshot.ID, err)
	}

	log.Printf("tracking: session %s ended (%s) after %ds, %d page views, %d interactions",
		snapshot.ID, reason, snapshot.Duration, snapshot.PageViews, snapshot.Interactions)
}

// Shutdown ends the session on host termination.
func (a *Agent) Shutdown() {
	a.End("shutdown")
}

// UpdateConfig swaps the agent's configuration. Interval changes reset the
// running timers; disabling tracking ends the current session.
func (a *Agent) UpdateConfig(cfg Config) {
	cfg = cfg.normalized()
	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	active := a.state == StateActive
	a.mu.Unlock()

	if !active {
		return
	}
	if cfg.FlushInterval != old.FlushInterval {
		a.flushTicker.Reset(cfg.FlushInterval)
	}
	if cfg.IdleCheckInterval != old.IdleCheckInterval {
		a.idleTicker.Reset(cfg.IdleCheckInterval)
	}
	if !cfg.Enabled {
		a.End("disabled")
	}
}
