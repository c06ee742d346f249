// Package session keeps the signed in user, the bearer token issued by the attendance
// backend and the per-user caches that must not outlive them.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/storage"
	"github.com/cppla/punchclock/utils"
)

const (
	keySession  = "session"
	keyDeviceID = "device_id"
	keySnapshot = "snapshot:"
)

type persisted struct {
	User      models.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

// Session is the signed in state of this device. It is safe for concurrent use.
type Session struct {
	store  storage.Store
	now    func() time.Time
	logger *zap.Logger

	mu        sync.RWMutex
	user      *models.User
	token     string
	expiresAt time.Time
	epoch     uint64
}

// New returns an empty session backed by store.
func New(store storage.Store, clock func() time.Time, logger *zap.Logger) *Session {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{store: store, now: clock, logger: logger.With(zap.String("component", "session"))}
}

// Init signs user in with the backend issued token and persists both. When the token
// is a JWT its expiry is honored and its subject fills in a missing user id.
func (s *Session) Init(ctx context.Context, user models.User, token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return errors.Wrap(attendance.ErrValidation, "token is required")
	}

	var expiresAt time.Time
	if claims, err := utils.ParseTokenUnverified(token); err == nil {
		if utils.TokenExpired(claims, s.now()) {
			return errors.Wrap(attendance.ErrNotAuthenticated, "token already expired")
		}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
		if user.ID == "" {
			user.ID = claims.UserID
		}
		if user.Email == "" {
			user.Email = claims.Email
		}
	} else {
		s.logger.Debug("session token is not a JWT, expiry unknown", zap.Error(err))
	}
	if user.ID == "" {
		return errors.Wrap(attendance.ErrValidation, "user id is required")
	}

	rec := persisted{User: user, Token: token}
	if !expiresAt.IsZero() {
		rec.ExpiresAt = &expiresAt
	}
	if err := storage.SetJSON(ctx, s.store, keySession, rec); err != nil {
		return errors.Wrap(err, "persist session")
	}

	s.mu.Lock()
	u := user
	s.user = &u
	s.token = token
	s.expiresAt = expiresAt
	s.epoch++
	s.mu.Unlock()
	s.logger.Info("session started", zap.String("user_id", user.ID))
	return nil
}

// Restore loads a previously persisted session. It reports false when there is none
// or the stored token has expired.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	var rec persisted
	ok, err := storage.GetJSON(ctx, s.store, keySession, &rec)
	if err != nil {
		return false, errors.Wrap(err, "load session")
	}
	if !ok || rec.Token == "" || rec.User.ID == "" {
		return false, nil
	}
	if rec.ExpiresAt != nil && !s.now().Before(*rec.ExpiresAt) {
		s.logger.Info("stored session expired", zap.String("user_id", rec.User.ID))
		return false, s.store.Delete(ctx, keySession)
	}

	s.mu.Lock()
	u := rec.User
	s.user = &u
	s.token = rec.Token
	s.expiresAt = time.Time{}
	if rec.ExpiresAt != nil {
		s.expiresAt = *rec.ExpiresAt
	}
	s.epoch++
	s.mu.Unlock()
	return true, nil
}

// Clear signs the user out. The offline queue and snapshots are kept so the same
// user finds them at the next login.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.expiresAt = time.Time{}
	s.epoch++
	s.mu.Unlock()
	if err := s.store.Delete(ctx, keySession); err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}

// Authenticated reports whether a user is signed in with an unexpired token.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	if s.token == "" || s.user == nil {
		return false
	}
	return s.expiresAt.IsZero() || s.now().Before(s.expiresAt)
}

// Epoch changes on every sign in and sign out.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// User returns the signed in user.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return models.User{}, false
	}
	return *s.user, true
}

// ExpiresAt returns the token expiry, zero when unknown.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Token implements oauth2.TokenSource for the backend client.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return nil, attendance.ErrNotAuthenticated
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer", Expiry: s.expiresAt}, nil
}

// DeviceID returns the stable identifier of this installation, creating it once.
func (s *Session) DeviceID(ctx context.Context) (string, error) {
	var id string
	ok, err := storage.GetJSON(ctx, s.store, keyDeviceID, &id)
	if err != nil {
		return "", errors.Wrap(err, "load device id")
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := storage.SetJSON(ctx, s.store, keyDeviceID, id); err != nil {
		return "", errors.Wrap(err, "persist device id")
	}
	return id, nil
}

// SaveSnapshot stores the last known attendance of the signed in user.
func (s *Session) SaveSnapshot(ctx context.Context, snap attendance.Snapshot) error {
	u, ok := s.User()
	if !ok {
		return attendance.ErrNotAuthenticated
	}
	return storage.SetJSON(ctx, s.store, keySnapshot+u.ID, snap)
}

// LoadSnapshot returns the stored attendance of the signed in user.
func (s *Session) LoadSnapshot(ctx context.Context) (attendance.Snapshot, bool, error) {
	var snap attendance.Snapshot
	u, ok := s.User()
	if !ok {
		return snap, false, nil
	}
	found, err := storage.GetJSON(ctx, s.store, keySnapshot+u.ID, &snap)
	return snap, found, err
}
