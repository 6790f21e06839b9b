package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-live/publisher/internal/auth"
	"github.com/aura-live/publisher/internal/middleware"
)

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Handler     *Handler
	JWT         *auth.JWTService
	Metrics     http.Handler
	Counter     middleware.RequestCounter
	CORSOrigins string
	Logger      *zap.Logger
}

// NewRouter builds the gin engine for the control API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.Logger(logger))
	if cfg.Counter != nil {
		router.Use(middleware.Count(cfg.Counter))
	}

	h := cfg.Handler
	router.GET("/health", h.Health)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	viewer := middleware.RequireRole(auth.RoleViewer, auth.RoleOperator)

	ws := router.Group("")
	ws.Use(middleware.JWTQuery(cfg.JWT))
	ws.GET("/runs/:id/ws", viewer, h.EventsWS(middleware.OriginChecker(cfg.CORSOrigins)))

	api := router.Group("")
	api.Use(middleware.JWT(cfg.JWT))
	{
		api.GET("/runs", viewer, h.ListRuns)
		api.GET("/runs/:id", viewer, h.GetRun)
		api.GET("/runs/:id/events", viewer, h.Events)
		api.GET("/runs/:id/report-url", viewer, h.ReportURL)

		api.POST("/jobs", middleware.RequireRole(auth.RoleOperator), h.EnqueueJob)
	}
	return router
}
