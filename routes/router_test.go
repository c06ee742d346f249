package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/config"
	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/session"
	"github.com/cppla/punchclock/storage"
)

type stubBackend struct {
	mu      sync.Mutex
	record  *models.AttendanceRecord
	failing bool
}

func (b *stubBackend) Today(context.Context) (*models.AttendanceRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.record == nil {
		return nil, nil
	}
	rec := *b.record
	return &rec, nil
}

func (b *stubBackend) Submit(_ context.Context, ev models.PendingEvent) (*models.AttendanceRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return nil, attendance.Classify(0, "", context.DeadlineExceeded)
	}
	next := map[models.EventType]models.ServerStatus{
		models.EventPunchIn:    models.StatusCheckedIn,
		models.EventPunchOut:   models.StatusCheckedOut,
		models.EventBreakStart: models.StatusOnBreak,
		models.EventBreakStop:  models.StatusCheckedIn,
	}[ev.Type]
	b.record = &models.AttendanceRecord{Status: next}
	rec := *b.record
	return &rec, nil
}

func (b *stubBackend) setFailing(v bool) {
	b.mu.Lock()
	b.failing = v
	b.mu.Unlock()
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r *gin.Engine, method, path, body string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:50000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid json %q", method, path, w.Body.String())
	}
	return w.Code, env
}

func setup(t *testing.T) (*gin.Engine, *stubBackend) {
	t.Helper()
	backend := &stubBackend{}
	store := storage.NewMemoryStore()
	sess := session.New(store, nil, nil)
	tracker := attendance.NewTracker(backend, sess, attendance.TrackerConfig{
		Store:              store,
		Cache:              sess,
		MinRefreshInterval: 10 * time.Second,
		PollInterval:       time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		tracker.Stop()
	})
	cfg := config.AppConfig{
		AppHost:            "127.0.0.1",
		GinMode:            "test",
		RateLimitPerMinute: 1000,
	}
	return SetupRouter(cfg, Deps{Base: ctx, Session: sess, Tracker: tracker}), backend
}

func statusOf(t *testing.T, env envelope) models.UIStatus {
	t.Helper()
	var v struct {
		Status models.UIStatus `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v.Status
}

func TestAttendanceFlow(t *testing.T) {
	r, backend := setup(t)

	code, env := call(t, r, http.MethodGet, "/api/v1/attendance/status", "")
	if code != http.StatusOK || statusOf(t, env) != models.UILoggedOut {
		t.Fatalf("expected logged out status, got %d %+v", code, env)
	}
	if code, _ := call(t, r, http.MethodPost, "/api/v1/attendance/punch-in", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", code)
	}

	code, env = call(t, r, http.MethodPost, "/api/v1/session", `{"token":"opaque","user":{"id":"u1","name":"<b>Ada</b>"}}`)
	if code != http.StatusOK {
		t.Fatalf("login failed: %d %+v", code, env)
	}
	var login struct {
		User models.User `json:"user"`
	}
	_ = json.Unmarshal(env.Data, &login)
	if login.User.Name != "Ada" {
		t.Fatalf("expected sanitized name, got %q", login.User.Name)
	}

	code, env = call(t, r, http.MethodPost, "/api/v1/attendance/punch-in", `{"location":"HQ"}`)
	if code != http.StatusOK || statusOf(t, env) != models.UIWorking {
		t.Fatalf("punch in: %d %+v", code, env)
	}
	if code, env = call(t, r, http.MethodPost, "/api/v1/attendance/punch-in", ""); code != http.StatusConflict {
		t.Fatalf("second punch in must conflict, got %d %+v", code, env)
	}
	if code, env = call(t, r, http.MethodPost, "/api/v1/attendance/break/start", `{"breakType":"other"}`); code != http.StatusBadRequest {
		t.Fatalf("other break without reason must fail, got %d %+v", code, env)
	}

	backend.setFailing(true)
	code, env = call(t, r, http.MethodPost, "/api/v1/attendance/break/start", `{"breakType":"tea"}`)
	if code != http.StatusAccepted || env.Code != 20201 || statusOf(t, env) != models.UIOnBreak {
		t.Fatalf("expected queued break, got %d %+v", code, env)
	}
	code, env = call(t, r, http.MethodGet, "/api/v1/queue", "")
	var queue struct {
		Length int `json:"length"`
	}
	_ = json.Unmarshal(env.Data, &queue)
	if code != http.StatusOK || queue.Length != 1 {
		t.Fatalf("expected one queued action, got %d %s", code, env.Data)
	}

	backend.setFailing(false)
	code, env = call(t, r, http.MethodPost, "/api/v1/connectivity", `{"online":true}`)
	if code != http.StatusOK {
		t.Fatalf("connectivity: %d %+v", code, env)
	}
	code, env = call(t, r, http.MethodGet, "/api/v1/attendance/status", "")
	var st attendance.State
	_ = json.Unmarshal(env.Data, &st)
	if st.Status != models.UIOnBreak || st.QueueLength != 0 || !st.Online || !st.Actions.EndBreak {
		t.Fatalf("unexpected state after replay %+v", st)
	}

	if code, _ := call(t, r, http.MethodPost, "/api/v1/events/bogus", ""); code != http.StatusNotFound {
		t.Fatalf("unknown event must 404, got %d", code)
	}

	code, env = call(t, r, http.MethodDelete, "/api/v1/session", "")
	if code != http.StatusOK {
		t.Fatalf("logout: %d %+v", code, env)
	}
	if code, _ := call(t, r, http.MethodGet, "/api/v1/session", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", code)
	}
}

func TestThrottleGate(t *testing.T) {
	r, _ := setup(t)
	if code, env := call(t, r, http.MethodPost, "/api/v1/session", `{"token":"opaque","user":{"id":"u1"}}`); code != http.StatusOK {
		t.Fatalf("login: %d %+v", code, env)
	}

	proceed := func() bool {
		code, env := call(t, r, http.MethodPost, "/api/v1/throttle/team", `{"minIntervalSec":60}`)
		if code != http.StatusOK {
			t.Fatalf("throttle: %d %+v", code, env)
		}
		var v struct {
			Proceed bool `json:"proceed"`
		}
		_ = json.Unmarshal(env.Data, &v)
		return v.Proceed
	}
	if !proceed() {
		t.Fatalf("first poll must proceed")
	}
	if proceed() {
		t.Fatalf("second poll inside the window must be throttled")
	}
}

func TestRemoteClientsAreRejected(t *testing.T) {
	r, _ := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.20:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for remote client, got %d", w.Code)
	}
}

func TestCrossSiteWritesAreRejected(t *testing.T) {
	r, _ := setup(t)
	if code, env := call(t, r, http.MethodPost, "/api/v1/session", `{"token":"opaque","user":{"id":"u1"}}`); code != http.StatusOK {
		t.Fatalf("login: %d %+v", code, env)
	}

	send := func(origin, contentType, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance/punch-in", bytes.NewReader([]byte(body)))
		req.RemoteAddr = "127.0.0.1:50000"
		req.Header.Set("Origin", origin)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got == "*" || got == "https://evil.example" {
			t.Fatalf("unexpected allow-origin %q", got)
		}
		return w.Code
	}

	if code := send("https://evil.example", "text/plain", `{"location":"HQ"}`); code != http.StatusForbidden {
		t.Fatalf("cross-site punch must be forbidden, got %d", code)
	}
	if code := send("http://localhost:5173", "text/plain", `{"location":"HQ"}`); code != http.StatusUnsupportedMediaType {
		t.Fatalf("non-JSON punch must be rejected, got %d", code)
	}
	_, env := call(t, r, http.MethodGet, "/api/v1/attendance/status", "")
	if got := statusOf(t, env); got != models.UILoggedIn {
		t.Fatalf("rejected requests must not change attendance, got %s", got)
	}
	if code := send("http://localhost:5173", "application/json", `{"location":"HQ"}`); code != http.StatusOK {
		t.Fatalf("punch from the local shell must succeed, got %d", code)
	}
}

func TestForwardedHeadersDoNotGrantLocalAccess(t *testing.T) {
	r, _ := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/attendance/status", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	req.Header.Set("X-Real-IP", "127.0.0.1")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for spoofed local address, got %d", w.Code)
	}
}
