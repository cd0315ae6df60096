// Package api serves the work order lifecycle over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/otyard/internal/dispatcher"
	"github.com/zulandar/otyard/internal/workorder"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultEventPoll is how often the event stream checks for new transitions.
const DefaultEventPoll = 3 * time.Second

// Opts holds the collaborators the handlers call.
type Opts struct {
	DB         *gorm.DB
	WorkOrders *workorder.Service
	Dispatcher *dispatcher.Service
	Logger     *zap.Logger
	EventPoll  time.Duration
}

// Server holds handler dependencies.
type Server struct {
	db         *gorm.DB
	workOrders *workorder.Service
	dispatcher *dispatcher.Service
	logger     *zap.Logger
	eventPoll  time.Duration
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.WorkOrders == nil {
		return nil, fmt.Errorf("api: work order service is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("api: dispatcher is required")
	}
	s := &Server{
		db:         opts.DB,
		workOrders: opts.WorkOrders,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		eventPoll:  opts.EventPoll,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.eventPoll <= 0 {
		s.eventPoll = DefaultEventPoll
	}
	return s, nil
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.registerRoutes(router)
	return router
}

// StartOpts holds configuration for the HTTP listener.
type StartOpts struct {
	Server *Server
	Port   int
	Out    io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Server == nil {
		return fmt.Errorf("api: server is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           opts.Server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
