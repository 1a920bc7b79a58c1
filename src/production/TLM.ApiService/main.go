package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gitlab.com/francauto/fa.telemetry_server/src/production/TLM.ApiService/controllers"
	container "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Container"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting Telemetry Service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctr.InitializeStorage(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize storage")
	}

	config := ctr.GetConfig()

	deviceRepo, readingRepo, err := ctr.GetRepositories()
	if err != nil {
		logger.FatalWithError(err, "Failed to get repositories")
	}

	hub := ctr.GetHub()
	go hub.Run()

	reg, err := ctr.GetRegistry()
	if err != nil {
		logger.FatalWithError(err, "Failed to get registry")
	}

	// Only one process per host may own the broker lifecycle. The lock
	// loser still serves HTTP reads but leaves connection state alone.
	ownsConnections, err := ctr.AcquireBootLock()
	if err != nil {
		logger.FatalWithError(err, "Failed to acquire boot lock")
	}
	if ownsConnections {
		if err := reg.ResetAll(ctx); err != nil {
			logger.FatalWithError(err, "Failed to reset connection state")
		}
		sweeper, err := ctr.GetSweeper()
		if err != nil {
			logger.FatalWithError(err, "Failed to get sweeper")
		}
		sweeper.Start()
		ctr.AddCleanupFunc(func() error {
			sweeper.Stop()
			return nil
		})
	} else {
		logger.Warn("Boot lock held by another process, skipping connection ownership")
	}

	healthChecker, err := ctr.GetHealthChecker()
	if err != nil {
		logger.FatalWithError(err, "Failed to get health checker")
	}

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	loc := config.DisplayLocation()
	deviceController := controllers.NewDeviceController(deviceRepo, reg, logger, loc)
	readingController := controllers.NewReadingController(readingRepo, logger, loc, config.Telemetry.ArchiveEnabled)
	streamController := controllers.NewStreamController(hub, logger)
	healthController := controllers.NewHealthController(healthChecker, logger)

	deviceController.RegisterRoutes(router)
	readingController.RegisterRoutes(router)
	streamController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	// Get port from configuration
	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("Telemetry service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
}
