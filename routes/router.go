package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cppla/punchclock/attendance"
	"github.com/cppla/punchclock/config"
	"github.com/cppla/punchclock/controllers"
	"github.com/cppla/punchclock/middleware"
	"github.com/cppla/punchclock/session"
	"github.com/cppla/punchclock/utils"
)

// Deps are the long lived components the local API serves.
type Deps struct {
	// Base bounds background work started by requests, such as polling after login.
	Base    context.Context
	Session *session.Session
	Tracker *attendance.Tracker
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, deps Deps) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Base == nil {
		deps.Base = context.Background()
	}

	r := gin.New()
	// requests come straight from the shell; client IPs are never taken from headers
	_ = r.SetTrustedProxies(nil)
	// Replace default console logger with file-based zap logger
	gl := utils.Logger
	if cfg.GinPath != "" {
		if l, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
			gl = l
		}
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, false))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = config.DefaultAllowedOrigins
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowWildcard = true
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.LocalOnly(!middleware.IsLoopbackHost(cfg.AppHost)))
	r.Use(middleware.OriginGuard(origins))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	sessionController := controllers.NewSessionController(deps.Base, deps.Session, deps.Tracker)
	attendanceController := controllers.NewAttendanceController(deps.Tracker)
	syncController := controllers.NewSyncController(deps.Tracker)

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))

	api.POST("/session", sessionController.Login)
	api.DELETE("/session", sessionController.Logout)
	api.GET("/session", sessionController.Me)
	api.GET("/attendance/status", attendanceController.Status)

	protected := api.Group("")
	protected.Use(middleware.SessionRequired(deps.Session))
	protected.POST("/attendance/refresh", attendanceController.Refresh)
	protected.POST("/attendance/punch-in", attendanceController.PunchIn)
	protected.POST("/attendance/punch-out", attendanceController.PunchOut)
	protected.POST("/attendance/break/start", attendanceController.StartBreak)
	protected.POST("/attendance/break/stop", attendanceController.EndBreak)
	protected.GET("/queue", syncController.Queue)
	protected.POST("/queue/drain", syncController.Drain)
	protected.POST("/connectivity", syncController.Connectivity)
	protected.POST("/events/:name", syncController.Event)
	protected.POST("/throttle/:key", syncController.Throttle)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
