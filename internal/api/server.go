// Package api exposes the fund engine's operational HTTP surface: stake
// lifecycle, pool and risk status, decision history, and manual cycle
// and settlement triggers.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fundpool-engine/internal/database"
	"fundpool-engine/internal/events"
	"fundpool-engine/internal/fund"
	"fundpool-engine/internal/memory"
	"fundpool-engine/internal/risk"
	"fundpool-engine/internal/scheduler"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowOrigins   []string
	ProductionMode bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	service   *fund.Service
	governor  *risk.Governor
	decisions *memory.Log
	repo      *database.Repository
	scheduler *scheduler.Scheduler
	eventBus  *events.Bus
}

// NewServer creates the API server
func NewServer(config ServerConfig, service *fund.Service, governor *risk.Governor,
	decisions *memory.Log, repo *database.Repository, sched *scheduler.Scheduler, eventBus *events.Bus) *Server {

	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		config:    config,
		service:   service,
		governor:  governor,
		decisions: decisions,
		repo:      repo,
		scheduler: sched,
		eventBus:  eventBus,
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		// Stakes
		api.POST("/stakes", s.handleCreateStake)
		api.GET("/stakes/:id", s.handleGetStake)
		api.POST("/stakes/:id/pause", s.handlePauseStake)
		api.POST("/stakes/:id/resume", s.handleResumeStake)
		api.GET("/stakes/:id/quote", s.handleRedemptionQuote)
		api.POST("/stakes/:id/redeem", s.handleRequestRedemption)
		api.POST("/stakes/:id/redeem/complete", s.handleCompleteRedemption)
		api.GET("/stakes/:id/allocations", s.handleStakeAllocations)

		// Pools
		api.GET("/pools", s.handleListPools)
		api.GET("/pools/:strategy/status", s.handlePoolStatus)
		api.GET("/pools/:strategy/decisions", s.handlePoolDecisions)
		api.GET("/pools/:strategy/memories", s.handlePoolMemories)
		api.GET("/pools/:strategy/settlements", s.handlePoolSettlements)
		api.POST("/pools/:strategy/cycle", s.handleRunCycle)
		api.POST("/pools/:strategy/settle", s.handleSettleDaily)

		// Risk
		api.GET("/risk/params", s.handleRiskParams)
		api.POST("/risk/pause", s.handleRiskPause)
		api.POST("/risk/resume", s.handleRiskResume)

		// Scheduler
		api.GET("/scheduler/status", s.handleSchedulerStatus)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
