package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"model-uploader/internal/adapters/primary/http/handlers"
	"model-uploader/internal/adapters/primary/http/middleware"
	"model-uploader/internal/bootstrap"
	"model-uploader/internal/config"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bootstrap.InitLogger(cfg)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// ============================================================================
	// Hexagonal Architecture Wiring
	// ============================================================================

	app, err := bootstrap.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("wire application: %v", err)
	}
	defer app.Close()

	// Primary Adapter (HTTP Handlers)
	h := handlers.New(app.Deploy, app.History, app.Hierarchy)

	// Setup router
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logging(), gin.Recovery())

	api := router.Group("/api/v1/uploader")
	h.RegisterRoutes(api)

	// Health check with manifest store ping
	router.GET("/healthz", func(c *gin.Context) {
		if err := app.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cfg.App.Version})
	})

	// Start server
	// Request contexts derive from baseCtx so that open watch streams end on shutdown.
	baseCtx, closeStreams := context.WithCancel(context.Background())
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		log.Infof("starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")
	closeStreams()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced shutdown: %v", err)
	}

	log.Info("server stopped")
}
