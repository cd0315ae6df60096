package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up every route on the gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api", requireActor())
	api.GET("/dispatcher", s.handleDispatcher)
	api.GET("/events", s.handleEvents)

	api.POST("/failures", s.handleReportFailure)
	api.GET("/failures", s.handleListFailures)
	api.GET("/failures/:id", s.handleGetFailure)

	wo := api.Group("/work-orders")
	wo.POST("", s.handleCreate)
	wo.GET("", s.handleList)
	wo.GET("/:id", s.handleDetail)
	wo.GET("/:id/history", s.handleHistory)
	wo.GET("/:id/prior-solutions", s.handlePriorSolutions)
	wo.GET("/:id/watchers", s.handleWatchers)
	wo.POST("/:id/follow", s.handleFollow)
	wo.DELETE("/:id/follow", s.handleUnfollow)

	wo.POST("/:id/assign", s.handleAssign)
	wo.POST("/:id/start", s.handleStart)
	wo.POST("/:id/wait", s.handleWait)
	wo.POST("/:id/resume", s.handleResume)
	wo.POST("/:id/confirm-rtp", s.handleConfirmRTP)
	wo.POST("/:id/close", s.handleClose)
	wo.POST("/:id/cancel", s.handleCancel)

	wo.GET("/:id/downtime", s.handleListDowntime)
	wo.POST("/:id/downtime", s.handleOpenDowntime)
	wo.GET("/:id/work-logs", s.handleListWorkLogs)
	wo.POST("/:id/work-logs", s.handleLogWork)
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
