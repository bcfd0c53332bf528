package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"aidispatch/internal/app"
	"aidispatch/internal/config"
	"aidispatch/internal/core"
	"aidispatch/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Server application server
type Server struct {
	port    string
	ginMode string

	app    *app.App
	router *gin.Engine
	logger core.Logger

	validClientKeys map[string]bool
	corsOrigin      string

	rateLimiter *rateLimiter

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	closeOnce      sync.Once
}

// NewServer creates a new server instance on top of a wired App
func NewServer(cfg config.ServerConfig, a *app.App) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("app is required")
	}

	validClientKeys := make(map[string]bool)
	for _, key := range cfg.ClientAPIKeys {
		validClientKeys[key] = true
	}

	if len(validClientKeys) == 0 {
		a.Logger.Warn("No client API keys configured")
	} else {
		a.Logger.Info("Loaded %d client API keys", len(validClientKeys))
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = core.DefaultRateLimit
	}
	port := cfg.Port
	if port == "" {
		port = core.DefaultPort
	}
	corsOrigin := cfg.CORSAllowOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	server := &Server{
		port:            port,
		ginMode:         cfg.GinMode,
		app:             a,
		logger:          a.Logger,
		validClientKeys: validClientKeys,
		corsOrigin:      corsOrigin,
		rateLimiter:     newRateLimiter(rateLimit),
		shutdownCtx:     shutdownCtx,
		shutdownCancel:  shutdownCancel,
	}

	server.setupRoutes()

	return server, nil
}

// Handler exposes the router, mainly for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run runs the server until a shutdown signal or Close
func (s *Server) Run() error {
	s.setupGracefulShutdown()

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // cascades and event streams run long
	}

	go func() {
		<-s.shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Server starting on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) setupGracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-quit:
			s.logger.Info("Shutdown signal received, shutting down gracefully...")
			s.shutdownCancel()
		case <-s.shutdownCtx.Done():
		}
		signal.Stop(quit)
	}()
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"providers": len(s.app.Catalog.Providers()),
		"queue":     s.app.Queue.Size(),
	})
}

func (s *Server) getStatsData(c *gin.Context) {
	snap := s.app.Usage.Snapshot()
	periodStats := metrics.GetPeriodStats(snap.RequestHistory, time.Now(), 24, 24*7, 24*30)

	keys := make(map[string]int)
	for _, name := range s.app.Catalog.Providers() {
		keys[name] = s.app.Credentials.Len(name)
	}

	c.JSON(http.StatusOK, gin.H{
		"currentTime":   time.Now().Format(core.TimeFormatDateTime),
		"currentQPS":    fmt.Sprintf("%.3f", s.app.Usage.GetQPS()),
		"totalRecords":  len(snap.RequestHistory),
		"stats24h":      periodStats[24],
		"stats7d":       periodStats[24*7],
		"stats30d":      periodStats[24*30],
		"totals":        snapshotTotals(snap),
		"byProvider":    snap.ByProvider,
		"cache":         s.app.Cache.Stats(),
		"keys":          keys,
		"queue":         s.app.Queue.Size(),
		"droppedEvents": s.app.Events.Dropped(),
	})
}

func snapshotTotals(snap metrics.Snapshot) gin.H {
	return gin.H{
		"calls":      snap.TotalCalls,
		"failures":   snap.TotalFailures,
		"tokensIn":   snap.TotalTokensIn,
		"tokensOut":  snap.TotalTokensOut,
		"cacheHits":  snap.CacheHits,
		"dailyCalls": snap.DailyCalls,
		"lastReset":  snap.LastReset,
	}
}

// Close stops the server and closes the App it owns
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if s.shutdownCancel != nil {
			s.shutdownCancel()
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		closeErr = s.app.Close()
	})
	return closeErr
}
