package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/utils"
)

// respondError maps tracker and backend errors onto the local API envelope.
func respondError(ctx *gin.Context, err error) {
	msg := attendance.Message(err)
	switch {
	case errors.Is(err, attendance.ErrNotAuthenticated):
		utils.Error(ctx, http.StatusUnauthorized, 40101, "not signed in")
	case errors.Is(err, attendance.ErrValidation):
		utils.Error(ctx, http.StatusBadRequest, 40001, msg)
	case errors.Is(err, attendance.ErrActionNotAllowed):
		utils.Error(ctx, http.StatusConflict, 40901, msg)
	case errors.Is(err, attendance.ErrActionInProgress):
		utils.Error(ctx, http.StatusConflict, 40902, "another action is still running")
	case errors.Is(err, attendance.ErrDrainInProgress):
		utils.Error(ctx, http.StatusConflict, 40903, "offline actions are being synchronized, try again shortly")
	case errors.Is(err, attendance.ErrSessionChanged):
		utils.Error(ctx, http.StatusConflict, 40904, "session changed, request discarded")
	case errors.Is(err, attendance.ErrUnknownEvent):
		utils.Error(ctx, http.StatusNotFound, 40401, msg)
	case errors.Is(err, attendance.ErrAlreadyProcessed):
		utils.Notice(ctx, 20002, msg, nil)
	case errors.Is(err, attendance.ErrRateLimited):
		// soft warning, the client keeps its last known state
		utils.Notice(ctx, 42901, "attendance server is busy, please retry later", nil)
	case errors.Is(err, attendance.ErrConnectivity):
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, "attendance server unreachable")
	case errors.Is(err, attendance.ErrUnexpectedServer):
		utils.Error(ctx, http.StatusBadGateway, 50201, msg)
	default:
		utils.Sugar.Errorf("local api request failed path=%s err=%v", ctx.FullPath(), err)
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal error")
	}
}
