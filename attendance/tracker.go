package attendance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/storage"
)

// API is the remote attendance backend.
type API interface {
	Today(ctx context.Context) (*models.AttendanceRecord, error)
	Submit(ctx context.Context, event models.PendingEvent) (*models.AttendanceRecord, error)
}

// Session exposes the login state the tracker depends on. Epoch changes on every
// login and logout; results of requests started under another epoch are discarded.
type Session interface {
	Authenticated() bool
	Epoch() uint64
}

// Snapshot is the last known record together with the status derived from it.
type Snapshot struct {
	Record   *models.AttendanceRecord `json:"record"`
	Status   models.UIStatus          `json:"status"`
	SyncedAt time.Time                `json:"syncedAt"`
}

// SnapshotCache persists the last known attendance between restarts.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (Snapshot, bool, error)
}

// MetadataFunc returns the IP address and device description attached to actions.
type MetadataFunc func(ctx context.Context) (ipAddress, deviceInfo string)

// RefreshSource tells where a refresh request came from.
type RefreshSource string

const (
	SourceTimer    RefreshSource = "timer"
	SourceRealtime RefreshSource = "realtime"
	SourceManual   RefreshSource = "manual"
	// SourceAction refreshes after a submitted action and bypasses throttle and the in-flight guard.
	SourceAction RefreshSource = "action"
)

// Realtime event names pushed by the backend.
const (
	EventAttendanceUpdate = "attendance-update"
	EventLeaveUpdate      = "leave-update"
	EventWidgetUpdate     = "widget-update"
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Store              storage.Store
	Cache              SnapshotCache
	MinRefreshInterval time.Duration
	PollInterval       time.Duration
	DefaultLocation    string
	Metadata           MetadataFunc
	Clock              func() time.Time
	Logger             *zap.Logger
}

// ActionRequest is a user initiated attendance action.
type ActionRequest struct {
	Type      models.EventType
	Location  string
	BreakType models.BreakType
	Reason    string
}

// ActionOutcome reports what happened to an action.
type ActionOutcome struct {
	Status      models.UIStatus      `json:"status"`
	Queued      bool                 `json:"queued"`
	QueueLength int                  `json:"queueLength"`
	Info        string               `json:"info,omitempty"`
	Warning     string               `json:"warning,omitempty"`
	Event       *models.PendingEvent `json:"event,omitempty"`
}

// State is everything a view needs to render attendance.
type State struct {
	Status        models.UIStatus          `json:"status"`
	Record        *models.AttendanceRecord `json:"record"`
	Actions       Actions                  `json:"actions"`
	Online        bool                     `json:"online"`
	QueueLength   int                      `json:"queueLength"`
	Draining      bool                     `json:"draining"`
	Busy          bool                     `json:"busy"`
	BreakMinutes  int                      `json:"breakMinutes"`
	WorkedMinutes int                      `json:"workedMinutes"`
	SyncedAt      *time.Time               `json:"syncedAt,omitempty"`
	Warning       string                   `json:"warning,omitempty"`
	Stale         map[string]time.Time     `json:"stale,omitempty"`
}

// Tracker keeps the attendance view of one device consistent across polling, realtime
// notifications, user actions and connectivity changes.
type Tracker struct {
	api      API
	session  Session
	cfg      TrackerConfig
	throttle *PollingThrottle
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	queue    *OfflineQueue
	record   *models.AttendanceRecord
	status   models.UIStatus
	online   bool
	syncedAt time.Time
	warning  string
	stale    map[string]time.Time
	acting   bool
	inflight uint64 // sequence of the guarded refresh in flight, 0 when idle
	issued   uint64
	applied  uint64

	pollMu   sync.Mutex
	pollStop context.CancelFunc
	pollDone chan struct{}
}

// NewTracker builds a tracker. Call OnLogin before issuing actions.
func NewTracker(api API, session Session, cfg TrackerConfig) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = 10 * time.Second
	}
	return &Tracker{
		api:      api,
		session:  session,
		cfg:      cfg,
		throttle: NewPollingThrottle(cfg.Clock),
		logger:   cfg.Logger.With(zap.String("component", "tracker")),
		now:      cfg.Clock,
		status:   models.UILoggedOut,
		online:   true,
		stale:    make(map[string]time.Time),
	}
}

// Throttle returns the throttle shared by every refresh source.
func (t *Tracker) Throttle() *PollingThrottle {
	return t.throttle
}

// OnLogin opens the offline queue of userID and restores the cached snapshot.
func (t *Tracker) OnLogin(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.Wrap(ErrValidation, "user id is required")
	}
	q, err := NewOfflineQueue(ctx, t.cfg.Store, "queue:"+userID, t.logger)
	if err != nil {
		return err
	}
	t.throttle.ResetAll()

	var snap Snapshot
	var haveSnap bool
	if t.cfg.Cache != nil {
		if snap, haveSnap, err = t.cfg.Cache.LoadSnapshot(ctx); err != nil {
			t.logger.Warn("load attendance snapshot failed", zap.Error(err))
			haveSnap = false
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = q
	t.record = nil
	t.syncedAt = time.Time{}
	t.warning = ""
	t.stale = make(map[string]time.Time)
	t.issued++
	t.applied = t.issued
	t.inflight = 0
	if haveSnap && snap.Record != nil && SameDay(snap.Record, t.now()) {
		t.record = snap.Record
		t.syncedAt = snap.SyncedAt
	}
	t.recomputeLocked()
	t.logger.Info("tracker session opened", zap.String("user_id", userID), zap.Int("queued", q.Len()))
	return nil
}

// OnLogout stops polling and forgets all session state. Queued events stay persisted
// under the user's key and are replayed at their next login.
func (t *Tracker) OnLogout() {
	t.Stop()
	t.throttle.ResetAll()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = nil
	t.record = nil
	t.status = models.UILoggedOut
	t.syncedAt = time.Time{}
	t.warning = ""
	t.stale = make(map[string]time.Time)
	t.issued++
	t.applied = t.issued
	t.inflight = 0
}

// Refresh fetches today's record and recomputes the status. Timer, realtime and manual
// refreshes are throttled together and never overlap; it returns false when the call
// was suppressed or its response was outdated.
func (t *Tracker) Refresh(ctx context.Context, source RefreshSource) (bool, error) {
	if !t.session.Authenticated() {
		return false, ErrNotAuthenticated
	}

	t.mu.Lock()
	if t.queue == nil {
		t.mu.Unlock()
		return false, ErrNotAuthenticated
	}
	if source != SourceAction {
		if t.inflight != 0 {
			t.mu.Unlock()
			return false, nil
		}
		if !t.throttle.ShouldProceed(KeyAttendance, t.cfg.MinRefreshInterval) {
			t.mu.Unlock()
			t.logger.Debug("refresh throttled", zap.String("source", string(source)))
			return false, nil
		}
	}
	t.issued++
	seq := t.issued
	if source != SourceAction {
		t.inflight = seq
	}
	epoch := t.session.Epoch()
	t.mu.Unlock()

	rec, err := t.api.Today(ctx)

	t.mu.Lock()
	if t.inflight == seq {
		t.inflight = 0
	}
	if t.session.Epoch() != epoch {
		t.mu.Unlock()
		return false, ErrSessionChanged
	}
	if err != nil {
		t.noteFailureLocked(err)
		t.mu.Unlock()
		t.logger.Warn("attendance refresh failed", zap.String("source", string(source)), zap.Error(err))
		return false, err
	}
	if seq < t.applied {
		t.mu.Unlock()
		t.logger.Debug("discarding outdated attendance response", zap.Uint64("seq", seq))
		return false, nil
	}
	wasOffline := !t.online
	t.applyLocked(seq, rec)
	snap := Snapshot{Record: t.record, Status: t.status, SyncedAt: t.syncedAt}
	queued := t.queue.Len()
	t.mu.Unlock()

	t.saveSnapshot(ctx, snap)
	if wasOffline && queued > 0 {
		t.logger.Info("backend reachable again, replaying offline queue", zap.Int("queued", queued))
		if _, err := t.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
			t.logger.Warn("replay after reconnect failed", zap.Error(err))
		}
	}
	return true, nil
}

// Drain replays the offline queue and refetches the record when anything was sent.
func (t *Tracker) Drain(ctx context.Context) (DrainResult, error) {
	if !t.session.Authenticated() {
		return DrainResult{}, ErrNotAuthenticated
	}
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return DrainResult{}, ErrNotAuthenticated
	}

	epoch := t.session.Epoch()
	res, err := q.Drain(ctx, func(ctx context.Context, ev models.PendingEvent) error {
		if t.session.Epoch() != epoch {
			return ErrSessionChanged
		}
		_, err := t.api.Submit(ctx, ev)
		return err
	})

	t.mu.Lock()
	if err != nil && !errors.Is(err, ErrDrainInProgress) {
		t.noteFailureLocked(err)
	}
	if t.queue == q {
		t.recomputeLocked()
	}
	t.mu.Unlock()

	if res.Submitted+res.Skipped > 0 {
		t.logger.Info("offline queue replayed",
			zap.Int("submitted", res.Submitted),
			zap.Int("skipped", res.Skipped),
			zap.Int("remaining", res.Remaining))
		if _, rerr := t.Refresh(ctx, SourceAction); rerr != nil {
			t.logger.Warn("refresh after replay failed", zap.Error(rerr))
		}
	}
	return res, err
}

// SetOnline records a connectivity change reported by the shell. Going from offline
// to online replays the queue.
func (t *Tracker) SetOnline(ctx context.Context, online bool) (DrainResult, error) {
	t.mu.Lock()
	was := t.online
	t.online = online
	q := t.queue
	if !online {
		t.warning = "offline: actions will be queued"
	} else if !was {
		t.warning = ""
	}
	t.mu.Unlock()

	if !online || was || q == nil || !t.session.Authenticated() {
		return DrainResult{Remaining: queueLen(q)}, nil
	}
	if q.Len() > 0 {
		return t.Drain(ctx)
	}
	if _, err := t.Refresh(ctx, SourceManual); err != nil {
		t.logger.Debug("refresh after reconnect failed", zap.Error(err))
	}
	return DrainResult{}, nil
}

// PunchIn starts the work day.
func (t *Tracker) PunchIn(ctx context.Context, location string) (ActionOutcome, error) {
	return t.Act(ctx, ActionRequest{Type: models.EventPunchIn, Location: location})
}

// PunchOut ends the work day.
func (t *Tracker) PunchOut(ctx context.Context, location string) (ActionOutcome, error) {
	return t.Act(ctx, ActionRequest{Type: models.EventPunchOut, Location: location})
}

// StartBreak opens a break of the given type.
func (t *Tracker) StartBreak(ctx context.Context, location string, breakType models.BreakType, reason string) (ActionOutcome, error) {
	return t.Act(ctx, ActionRequest{Type: models.EventBreakStart, Location: location, BreakType: breakType, Reason: reason})
}

// EndBreak closes the running break.
func (t *Tracker) EndBreak(ctx context.Context, location string) (ActionOutcome, error) {
	return t.Act(ctx, ActionRequest{Type: models.EventBreakStop, Location: location})
}

// Act validates and submits an action, queueing it when the backend cannot be reached.
func (t *Tracker) Act(ctx context.Context, req ActionRequest) (ActionOutcome, error) {
	if !t.session.Authenticated() {
		return ActionOutcome{}, ErrNotAuthenticated
	}
	if err := validateAction(req); err != nil {
		return ActionOutcome{}, err
	}

	t.mu.Lock()
	q := t.queue
	if q == nil {
		t.mu.Unlock()
		return ActionOutcome{}, ErrNotAuthenticated
	}
	if q.Draining() {
		t.mu.Unlock()
		return ActionOutcome{}, ErrDrainInProgress
	}
	if t.acting {
		t.mu.Unlock()
		return ActionOutcome{}, ErrActionInProgress
	}
	if _, ok := Transition(t.status, req.Type); !ok {
		status := t.status
		t.mu.Unlock()
		return ActionOutcome{}, errors.Wrapf(ErrActionNotAllowed, "%s while %s", req.Type, status)
	}
	t.acting = true
	online := t.online
	epoch := t.session.Epoch()
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.acting = false
		t.mu.Unlock()
	}()

	ev := t.buildEvent(ctx, req)

	if !online {
		return t.enqueue(ctx, q, ev, "offline: action queued and will be sent when back online")
	}
	if q.Len() > 0 {
		// queued actions must reach the backend before this one
		if _, err := t.Drain(ctx); err != nil {
			t.logger.Info("pending actions not flushed, queueing new action behind them", zap.Error(err))
			return t.enqueue(ctx, q, ev, "earlier offline actions are still pending; action queued")
		}
		t.mu.Lock()
		_, ok := Transition(t.status, req.Type)
		status := t.status
		t.mu.Unlock()
		if !ok {
			return ActionOutcome{}, errors.Wrapf(ErrActionNotAllowed, "%s while %s", req.Type, status)
		}
	}

	rec, err := t.api.Submit(ctx, ev)
	if t.session.Epoch() != epoch {
		return ActionOutcome{}, ErrSessionChanged
	}

	switch {
	case err == nil:
		t.mu.Lock()
		t.issued++
		if rec != nil {
			t.applyLocked(t.issued, rec)
		} else {
			t.online = true
		}
		t.mu.Unlock()
		t.logger.Info("attendance action submitted", zap.String("type", string(ev.Type)), zap.String("event_id", ev.ID))
		t.refreshAfterAction(ctx)
		return t.outcome(q, false, "", ""), nil

	case errors.Is(err, ErrAlreadyProcessed):
		t.logger.Info("attendance action already processed", zap.String("type", string(ev.Type)), zap.Error(err))
		t.refreshAfterAction(ctx)
		return t.outcome(q, false, Message(err), ""), nil

	case Queueable(err):
		t.mu.Lock()
		t.noteFailureLocked(err)
		t.mu.Unlock()
		warning := "could not reach the attendance server; action queued for retry"
		if errors.Is(err, ErrUnexpectedServer) {
			warning = "the attendance server failed; action queued for retry"
		}
		t.logger.Warn("attendance action failed, queueing", zap.String("type", string(ev.Type)), zap.Error(err))
		return t.enqueue(ctx, q, ev, warning)

	case errors.Is(err, ErrRateLimited):
		t.mu.Lock()
		t.noteFailureLocked(err)
		t.mu.Unlock()
		return ActionOutcome{}, err
	}
	return ActionOutcome{}, err
}

// HandleRealtime reacts to a pushed backend event. Every event is only a hint that
// something changed; refreshes stay behind the throttle.
func (t *Tracker) HandleRealtime(ctx context.Context, name string) (bool, error) {
	switch name {
	case EventAttendanceUpdate:
		return t.Refresh(ctx, SourceRealtime)
	case EventWidgetUpdate:
		t.markStale(KeyWidgets)
		return t.Refresh(ctx, SourceRealtime)
	case EventLeaveUpdate:
		return t.markStale(KeyDashboard), nil
	}
	return false, errors.Wrapf(ErrUnknownEvent, "%q", name)
}

// Gate lets other views rate limit their own polling through the shared throttle.
func (t *Tracker) Gate(key string, minInterval time.Duration) bool {
	if minInterval <= 0 {
		minInterval = t.cfg.MinRefreshInterval
	}
	return t.throttle.ShouldProceed(key, minInterval)
}

// Start begins periodic refreshes until Stop, OnLogout or ctx cancellation.
func (t *Tracker) Start(parent context.Context) {
	t.Stop()
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	t.pollMu.Lock()
	t.pollStop = cancel
	t.pollDone = done
	t.pollMu.Unlock()
	go t.poll(ctx, done)
}

// Stop ends periodic refreshes and waits for the polling goroutine to exit.
func (t *Tracker) Stop() {
	t.pollMu.Lock()
	cancel, done := t.pollStop, t.pollDone
	t.pollStop, t.pollDone = nil, nil
	t.pollMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Tracker) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Tracker) tick(ctx context.Context) {
	if !t.session.Authenticated() {
		return
	}
	t.mu.Lock()
	q, online := t.queue, t.online
	t.mu.Unlock()
	if online && q != nil && q.Len() > 0 && !q.Draining() {
		if _, err := t.Drain(ctx); err != nil && ctx.Err() == nil {
			t.logger.Debug("scheduled replay incomplete", zap.Error(err))
		}
	}
	if _, err := t.Refresh(ctx, SourceTimer); err != nil && ctx.Err() == nil {
		t.logger.Debug("scheduled refresh failed", zap.Error(err))
	}
}

// State returns the current view state.
func (t *Tracker) State() State {
	now := t.now()
	authenticated := t.session.Authenticated()

	t.mu.Lock()
	defer t.mu.Unlock()
	st := State{
		Status:  t.status,
		Record:  t.record,
		Online:  t.online,
		Busy:    t.acting,
		Warning: t.warning,
	}
	if !authenticated {
		st.Status = models.UILoggedOut
		st.Record = nil
	}
	if t.queue != nil {
		st.QueueLength = t.queue.Len()
		st.Draining = t.queue.Draining()
	}
	st.Actions = AllowedActions(st.Status)
	if st.Busy || (st.Draining && st.QueueLength > 0) {
		st.Actions = Actions{}
	}
	if !t.syncedAt.IsZero() {
		synced := t.syncedAt
		st.SyncedAt = &synced
	}
	st.BreakMinutes = LiveBreakMinutes(st.Record, now)
	st.WorkedMinutes = LiveWorkingMinutes(st.Record, now)
	if len(t.stale) > 0 {
		st.Stale = make(map[string]time.Time, len(t.stale))
		for k, v := range t.stale {
			st.Stale[k] = v
		}
	}
	return st
}

// Pending returns the queued events in replay order.
func (t *Tracker) Pending() []models.PendingEvent {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return nil
	}
	return q.Snapshot()
}

func (t *Tracker) refreshAfterAction(ctx context.Context) {
	if _, err := t.Refresh(ctx, SourceAction); err != nil {
		t.logger.Warn("refresh after action failed", zap.Error(err))
	}
}

func (t *Tracker) enqueue(ctx context.Context, q *OfflineQueue, ev models.PendingEvent, warning string) (ActionOutcome, error) {
	if err := q.Enqueue(ctx, ev); err != nil {
		return ActionOutcome{}, err
	}
	t.mu.Lock()
	if t.queue == q {
		t.recomputeLocked()
	}
	t.mu.Unlock()
	out := t.outcome(q, true, "", warning)
	out.Event = &ev
	return out, nil
}

func (t *Tracker) outcome(q *OfflineQueue, queued bool, info, warning string) ActionOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ActionOutcome{
		Status:      t.status,
		Queued:      queued,
		QueueLength: q.Len(),
		Info:        info,
		Warning:     warning,
	}
}

func (t *Tracker) buildEvent(ctx context.Context, req ActionRequest) models.PendingEvent {
	ev := models.PendingEvent{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Location:  req.Location,
		BreakType: req.BreakType,
		Reason:    req.Reason,
		CreatedAt: t.now().UTC(),
	}
	if ev.Location == "" {
		ev.Location = t.cfg.DefaultLocation
	}
	if t.cfg.Metadata != nil {
		ev.IPAddress, ev.DeviceInfo = t.cfg.Metadata(ctx)
	}
	return ev
}

func (t *Tracker) markStale(key string) bool {
	if !t.throttle.ShouldProceed(key, t.cfg.MinRefreshInterval) {
		return false
	}
	t.mu.Lock()
	t.stale[key] = t.now()
	t.mu.Unlock()
	return true
}

// applyLocked installs a fresh record fetched under sequence seq. The backend decides
// which record is today's, so its dates are not checked against the local clock.
func (t *Tracker) applyLocked(seq uint64, rec *models.AttendanceRecord) {
	now := t.now()
	if seq > t.applied {
		t.applied = seq
	}
	t.record = rec
	t.online = true
	t.syncedAt = now
	t.warning = ""
	t.recomputeLocked()
}

func (t *Tracker) recomputeLocked() {
	var pending []models.PendingEvent
	if t.queue != nil {
		pending = t.queue.Snapshot()
	}
	t.status = Project(t.record, t.queue != nil, pending)
}

func (t *Tracker) noteFailureLocked(err error) {
	switch {
	case errors.Is(err, ErrConnectivity):
		t.online = false
		t.warning = "offline: showing last known attendance"
	case errors.Is(err, ErrRateLimited):
		t.warning = "the attendance server is busy; data will refresh at the next interval"
	case errors.Is(err, ErrUnexpectedServer):
		t.warning = "the attendance server reported an error"
	}
}

func (t *Tracker) saveSnapshot(ctx context.Context, snap Snapshot) {
	if t.cfg.Cache == nil {
		return
	}
	if err := t.cfg.Cache.SaveSnapshot(ctx, snap); err != nil {
		t.logger.Warn("save attendance snapshot failed", zap.Error(err))
	}
}

func validateAction(req ActionRequest) error {
	if !req.Type.Valid() {
		return errors.Wrapf(ErrValidation, "unknown action %q", req.Type)
	}
	if req.Type != models.EventBreakStart {
		return nil
	}
	if !req.BreakType.Valid() {
		return errors.Wrap(ErrValidation, "a valid break type is required")
	}
	if req.BreakType == models.BreakOther && strings.TrimSpace(req.Reason) == "" {
		return errors.Wrap(ErrValidation, "a reason is required for other breaks")
	}
	if len(req.Reason) > 500 {
		return errors.Wrap(ErrValidation, "reason must be at most 500 characters")
	}
	return nil
}

func queueLen(q *OfflineQueue) int {
	if q == nil {
		return 0
	}
	return q.Len()
}
