package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/models"
	"github.com/cppla/punchclock/utils"
)

// AttendanceController serves the attendance status and punch actions.
type AttendanceController struct {
	tracker *attendance.Tracker
}

// NewAttendanceController creates a new controller instance.
func NewAttendanceController(tracker *attendance.Tracker) *AttendanceController {
	return &AttendanceController{tracker: tracker}
}

type actionRequest struct {
	Location  string `json:"location" binding:"max=200"`
	BreakType string `json:"breakType" binding:"max=32"`
	Reason    string `json:"reason" binding:"max=500"`
}

// Status returns the current attendance view.
func (a *AttendanceController) Status(ctx *gin.Context) {
	utils.Success(ctx, a.tracker.State())
}

// Refresh asks the backend for today's record, subject to the shared throttle.
func (a *AttendanceController) Refresh(ctx *gin.Context) {
	ok, err := a.tracker.Refresh(ctx.Request.Context(), attendance.SourceManual)
	if err != nil {
		respondError(ctx, err)
		return
	}
	if !ok {
		utils.Notice(ctx, 20001, "refresh skipped, data is recent", a.tracker.State())
		return
	}
	utils.Success(ctx, a.tracker.State())
}

// PunchIn starts the work day.
func (a *AttendanceController) PunchIn(ctx *gin.Context) {
	a.act(ctx, models.EventPunchIn)
}

// PunchOut ends the work day.
func (a *AttendanceController) PunchOut(ctx *gin.Context) {
	a.act(ctx, models.EventPunchOut)
}

// StartBreak opens a break; breakType is required and reason is required for "other".
func (a *AttendanceController) StartBreak(ctx *gin.Context) {
	a.act(ctx, models.EventBreakStart)
}

// EndBreak closes the running break.
func (a *AttendanceController) EndBreak(ctx *gin.Context) {
	a.act(ctx, models.EventBreakStop)
}

func (a *AttendanceController) act(ctx *gin.Context, typ models.EventType) {
	var req actionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.Error(ctx, http.StatusBadRequest, 40000, "invalid request payload")
		return
	}

	out, err := a.tracker.Act(ctx.Request.Context(), attendance.ActionRequest{
		Type:      typ,
		Location:  utils.SanitizeText(req.Location),
		BreakType: models.BreakType(utils.SanitizeText(req.BreakType)),
		Reason:    utils.SanitizeText(req.Reason),
	})
	if err != nil {
		respondError(ctx, err)
		return
	}
	switch {
	case out.Queued:
		utils.Accepted(ctx, out.Warning, out)
	case out.Info != "":
		utils.Notice(ctx, 20002, out.Info, out)
	default:
		utils.Success(ctx, out)
	}
}
