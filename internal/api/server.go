// Package api implements the read-only admin HTTP API for parleyd:
// server status, live sessions and rooms, and the recent audit trail.
// Chat traffic itself never touches HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/parley-project/parley/internal/config"
	"github.com/parley-project/parley/internal/db"
	intnet "github.com/parley-project/parley/internal/network"
	"github.com/parley-project/parley/internal/server"
	"github.com/parley-project/parley/internal/util"
)

// Server is the admin HTTP server.
type Server struct {
	cfg   *config.Config
	core  *server.Core
	audit *db.AuditStore // nil when auditing is disabled

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates an admin API server over the given chat core.
func NewServer(cfg *config.Config, core *server.Core, audit *db.AuditStore) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:   cfg,
		core:  core,
		audit: audit,
	}
}

// Start runs the API server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplicationData().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("admin API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	apiCfg := s.cfg.GetApplicationData().API

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	limiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(limiter.Middleware())

	router.GET("/api/public/ping", s.handlePing)

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/sessions", s.handleSessions)
		api.GET("/rooms", s.handleRooms)
		api.GET("/events", s.handleEvents)
	}

	return router
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptime_sec": int(s.core.Uptime().Seconds()),
		"sessions":   s.core.SessionCount(),
		"rooms":      len(s.core.ListRooms()),
		"system":     util.GetSystemInfo(),
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.core.Sessions()})
}

func (s *Server) handleRooms(c *gin.Context) {
	rooms := s.core.ListRooms()
	members := make(map[string][]string, len(rooms))
	for _, room := range rooms {
		members[room] = []string{}
	}
	for _, sess := range s.core.Sessions() {
		members[sess.Room] = append(members[sess.Room], sess.Name)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "members": members})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	if entries == nil {
		entries = []db.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}
