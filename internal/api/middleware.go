package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/otyard/internal/metrics"
	"github.com/zulandar/otyard/internal/workorder"
	"go.uber.org/zap"
)

// Identity headers set by the upstream session layer.
const (
	HeaderActorID           = "X-Actor-ID"
	HeaderActorCapabilities = "X-Actor-Capabilities"
	HeaderRequestID         = "X-Request-ID"
)

const actorKey = "actor"

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		s.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", c.GetString(HeaderRequestID)))
	}
}

// requireActor resolves the caller from identity headers.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errorDetail{
				Kind:    "UNAUTHENTICATED",
				Message: "missing " + HeaderActorID + " header",
			}})
			return
		}
		c.Set(actorKey, workorder.Actor{
			ID:           id,
			Capabilities: workorder.ParseCapabilities(c.GetHeader(HeaderActorCapabilities)),
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) workorder.Actor {
	a, _ := c.Get(actorKey)
	actor, _ := a.(workorder.Actor)
	return actor
}
