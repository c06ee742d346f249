// Package client talks to the remote attendance backend over HTTPS.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/models"
)

const maxBodyBytes = 1 << 20

var actionPaths = map[models.EventType]string{
	models.EventPunchIn:    "/attendance/checkin",
	models.EventPunchOut:   "/attendance/checkout",
	models.EventBreakStart: "/attendance/break/start",
	models.EventBreakStop:  "/attendance/break/end",
}

// Client is the attendance backend client. Requests are authorized with the bearer
// token of the token source; a missing token fails with attendance.ErrNotAuthenticated.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for baseURL, e.g. https://hr.example.com/api.
func New(baseURL string, timeout time.Duration, ts oauth2.TokenSource, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			// oauth2.NewClient would cache tokens without expiry forever; the session
			// source must be asked on every request so logout takes effect.
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type actionBody struct {
	Location   string           `json:"location,omitempty"`
	IPAddress  string           `json:"ipAddress,omitempty"`
	DeviceInfo string           `json:"deviceInfo,omitempty"`
	BreakType  models.BreakType `json:"breakType,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	ClientTime time.Time        `json:"clientTime"`
	EventID    string           `json:"clientEventId,omitempty"`
}

// envelope covers the response shapes of the backend: {data: record},
// {attendance: record}, {success, message} or the bare record.
type envelope struct {
	Success    *bool           `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	Status     string          `json:"status,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Attendance json.RawMessage `json:"attendance,omitempty"`
}

// Today fetches the attendance record of the current day. A nil record means the
// user has no attendance yet.
func (c *Client) Today(ctx context.Context) (*models.AttendanceRecord, error) {
	return c.do(ctx, http.MethodGet, "/attendance/today", nil)
}

// Submit sends a punch or break action and returns the updated record when the
// backend includes one.
func (c *Client) Submit(ctx context.Context, ev models.PendingEvent) (*models.AttendanceRecord, error) {
	path, ok := actionPaths[ev.Type]
	if !ok {
		return nil, errors.Wrapf(attendance.ErrUnknownEventType, "%q", ev.Type)
	}
	body := actionBody{
		Location:   ev.Location,
		IPAddress:  ev.IPAddress,
		DeviceInfo: ev.DeviceInfo,
		ClientTime: ev.CreatedAt,
		EventID:    ev.ID,
	}
	if ev.Type == models.EventBreakStart {
		body.BreakType = ev.BreakType
		body.Reason = ev.Reason
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*models.AttendanceRecord, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("attendance request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, attendance.Classify(0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, attendance.Classify(0, "", errors.Wrap(err, "read response"))
	}
	c.logger.Debug("attendance request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, attendance.Classify(resp.StatusCode, errorMessage(env, raw, resp.StatusCode), nil)
	}
	if decodeErr != nil {
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, nil
		}
		return nil, attendance.Classify(http.StatusBadGateway, "malformed attendance response", nil)
	}
	if env.Success != nil && !*env.Success {
		return nil, attendance.Classify(http.StatusBadRequest, errorMessage(env, raw, http.StatusBadRequest), nil)
	}
	return decodeRecord(env, raw)
}

func decodeRecord(env envelope, raw []byte) (*models.AttendanceRecord, error) {
	body := raw
	switch {
	case len(env.Data) > 0:
		body = env.Data
		// some endpoints nest one more level: {data: {attendance: record}}
		var inner envelope
		if json.Unmarshal(env.Data, &inner) == nil && len(inner.Attendance) > 0 {
			body = inner.Attendance
		}
	case len(env.Attendance) > 0:
		body = env.Attendance
	}
	if t := bytes.TrimSpace(body); len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil, nil
	}
	var rec models.AttendanceRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, attendance.Classify(http.StatusBadGateway, "malformed attendance record", nil)
	}
	if rec.Status == "" && env.Status != "" && isServerStatus(env.Status) {
		rec.Status = models.ServerStatus(env.Status)
	}
	if rec.CheckIn == nil && rec.CheckOut == nil && rec.Status == "" && len(rec.Breaks) == 0 && rec.Date == "" {
		return nil, nil
	}
	return &rec, nil
}

func isServerStatus(s string) bool {
	switch models.ServerStatus(s) {
	case models.StatusNotCheckedIn, models.StatusCheckedIn, models.StatusOnBreak, models.StatusCheckedOut:
		return true
	}
	return false
}

func errorMessage(env envelope, raw []byte, status int) string {
	if env.Message != "" {
		return env.Message
	}
	if env.Error != "" {
		return env.Error
	}
	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "{") && len(text) < 200 {
		return text
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
