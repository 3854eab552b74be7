// Package api exposes the HTTP surface: public intake endpoints for
// worker turns and telephony callbacks, plus token-authenticated
// supervisor endpoints for monitoring and intervention.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lifelinehq/lifeline/internal/archive"
	"github.com/lifelinehq/lifeline/internal/incident"
	"github.com/lifelinehq/lifeline/internal/mirror"
	"github.com/lifelinehq/lifeline/internal/respond"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB          *gorm.DB
	Incidents   *incident.Store
	Archiver    *archive.Archiver
	Mirror      mirror.Store
	Replicator  *mirror.Replicator
	Responder   respond.Responder
	MaxTurns    int
	HangupGrace time.Duration
	Port        int
	Out         io.Writer
}

// server bundles the dependencies handlers need.
type server struct {
	db          *gorm.DB
	incidents   *incident.Store
	archiver    *archive.Archiver
	mirror      mirror.Store
	replicator  *mirror.Replicator
	responder   respond.Responder
	maxTurns    int
	hangupGrace time.Duration
}

// newRouter validates opts and builds the Gin router. Split out from
// Start so tests can drive handlers without a listening socket.
func newRouter(opts StartOpts) (*gin.Engine, *server, error) {
	if opts.DB == nil {
		return nil, nil, fmt.Errorf("api: db is required")
	}
	if opts.Incidents == nil {
		return nil, nil, fmt.Errorf("api: incident store is required")
	}
	if opts.Archiver == nil {
		return nil, nil, fmt.Errorf("api: archiver is required")
	}
	if opts.Mirror == nil {
		return nil, nil, fmt.Errorf("api: mirror is required")
	}
	if opts.Responder == nil {
		opts.Responder = &respond.StaticResponder{}
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 20
	}
	if opts.HangupGrace <= 0 {
		opts.HangupGrace = 2 * time.Second
	}

	s := &server{
		db:          opts.DB,
		incidents:   opts.Incidents,
		archiver:    opts.Archiver,
		mirror:      opts.Mirror,
		replicator:  opts.Replicator,
		responder:   opts.Responder,
		maxTurns:    opts.MaxTurns,
		hangupGrace: opts.HangupGrace,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, s)
	return router, s, nil
}

// Start launches the API server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	router, _, err := newRouter(opts)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	// Public intake endpoints.
	router.POST("/turn", s.handleTurn)
	router.POST("/call-status", s.handleCallStatus)
	router.POST("/hangup", s.handleHangup)

	// Supervisor endpoints behind bearer auth.
	authed := router.Group("/api", supervisorAuth(s.db))
	authed.GET("/incidents", s.handleListIncidents)
	authed.GET("/conversation/:id", s.handleConversation)
	authed.GET("/conversation/:id/stream", s.handleStream)
	authed.POST("/incidents/:id/end", s.handleEndIncident)
	authed.POST("/incidents/:id/takeover", s.handleTakeover)
}
