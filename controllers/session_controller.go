package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/session"
	"github.com/cppla/punchclock/utils"
)

// SessionController signs the device user in and out.
type SessionController struct {
	session *session.Session
	tracker *attendance.Tracker
	// base outlives requests and bounds the polling loop
	base context.Context
}

// NewSessionController creates a new controller instance.
func NewSessionController(base context.Context, sess *session.Session, tracker *attendance.Tracker) *SessionController {
	return &SessionController{session: sess, tracker: tracker, base: base}
}

type loginRequest struct {
	Token string `json:"token" binding:"required"`
	User  struct {
		ID         string `json:"id" binding:"max=64"`
		Name       string `json:"name" binding:"max=100"`
		Email      string `json:"email" binding:"omitempty,email"`
		EmployeeID string `json:"employeeId" binding:"max=64"`
		Role       string `json:"role" binding:"max=32"`
	} `json:"user"`
}

// Login stores the token the backend issued and starts tracking for that user.
func (s *SessionController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40000, "invalid request payload")
		return
	}

	if s.session.Authenticated() {
		s.tracker.OnLogout()
	}
	user := models.User{
		ID:         req.User.ID,
		Name:       utils.SanitizeText(req.User.Name),
		Email:      req.User.Email,
		EmployeeID: utils.SanitizeText(req.User.EmployeeID),
		Role:       utils.SanitizeText(req.User.Role),
	}
	if err := s.session.Init(ctx.Request.Context(), user, req.Token); err != nil {
		respondError(ctx, err)
		return
	}
	current, _ := s.session.User()
	if err := s.tracker.OnLogin(ctx.Request.Context(), current.ID); err != nil {
		_ = s.session.Clear(ctx.Request.Context())
		respondError(ctx, err)
		return
	}
	s.tracker.Start(s.base)

	utils.Success(ctx, gin.H{
		"user":  current,
		"state": s.tracker.State(),
	})
}

// Logout stops tracking and forgets the token. Queued actions are kept for the next login.
func (s *SessionController) Logout(ctx *gin.Context) {
	s.tracker.OnLogout()
	if err := s.session.Clear(ctx.Request.Context()); err != nil {
		utils.Sugar.Errorf("clear session failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to clear session")
		return
	}
	utils.Success(ctx, gin.H{"message": "signed out"})
}

// Me returns the signed in user.
func (s *SessionController) Me(ctx *gin.Context) {
	user, ok := s.session.User()
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40101, "not signed in")
		return
	}
	deviceID, err := s.session.DeviceID(ctx.Request.Context())
	if err != nil {
		utils.Sugar.Warnf("load device id failed: %v", err)
	}
	var expires *time.Time
	if exp := s.session.ExpiresAt(); !exp.IsZero() {
		expires = &exp
	}
	utils.Success(ctx, gin.H{
		"user":      user,
		"deviceId":  deviceID,
		"expiresAt": expires,
	})
}
