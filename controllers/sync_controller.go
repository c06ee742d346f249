package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/utils"
)

// SyncController exposes the offline queue, connectivity reports, realtime events and
// the shared polling throttle to the shell.
type SyncController struct {
	tracker *attendance.Tracker
}

// NewSyncController creates a new controller instance.
func NewSyncController(tracker *attendance.Tracker) *SyncController {
	return &SyncController{tracker: tracker}
}

// Queue lists actions waiting for replay.
func (s *SyncController) Queue(ctx *gin.Context) {
	items := s.tracker.Pending()
	st := s.tracker.State()
	utils.Success(ctx, gin.H{
		"items":    items,
		"length":   len(items),
		"draining": st.Draining,
		"online":   st.Online,
	})
}

// Drain replays the queue now.
func (s *SyncController) Drain(ctx *gin.Context) {
	res, err := s.tracker.Drain(ctx.Request.Context())
	if err != nil && !errors.Is(err, attendance.ErrDrainInProgress) {
		utils.Sugar.Warnf("manual drain stopped: %v", err)
		if errors.Is(err, attendance.ErrNotAuthenticated) {
			respondError(ctx, err)
			return
		}
		utils.Notice(ctx, 20003, "some actions could not be sent yet: "+attendance.Message(err), res)
		return
	}
	if errors.Is(err, attendance.ErrDrainInProgress) {
		utils.Notice(ctx, 40903, "synchronization already running", res)
		return
	}
	utils.Success(ctx, res)
}

type connectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// Connectivity records a network change detected by the shell.
func (s *SyncController) Connectivity(ctx *gin.Context) {
	var req connectivityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40000, "invalid request payload")
		return
	}
	res, err := s.tracker.SetOnline(ctx.Request.Context(), *req.Online)
	if err != nil {
		utils.Notice(ctx, 20003, "some actions could not be sent yet: "+attendance.Message(err), gin.H{
			"drain": res,
			"state": s.tracker.State(),
		})
		return
	}
	utils.Success(ctx, gin.H{
		"drain": res,
		"state": s.tracker.State(),
	})
}

// Event delivers a realtime notification by name, e.g. attendance-update.
func (s *SyncController) Event(ctx *gin.Context) {
	name := strings.TrimSpace(ctx.Param("name"))
	ok, err := s.tracker.HandleRealtime(ctx.Request.Context(), name)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"event": name, "applied": ok})
}

type throttleRequest struct {
	MinIntervalSec int `json:"minIntervalSec" binding:"min=0,max=3600"`
}

// Throttle answers whether a view polling under key may fetch now.
func (s *SyncController) Throttle(ctx *gin.Context) {
	key := strings.TrimSpace(ctx.Param("key"))
	if key == "" || len(key) > 64 {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid throttle key")
		return
	}
	var req throttleRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40000, "invalid request payload")
			return
		}
	}
	proceed := s.tracker.Gate(key, time.Duration(req.MinIntervalSec)*time.Second)
	utils.Success(ctx, gin.H{"key": key, "proceed": proceed})
}
