package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-hazard-pipeline/internal/app"
	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-hazard-pipeline/internal/handlers"
	"github.com/tendant/simple-hazard-pipeline/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipelineApp, err := app.New(context.Background(), cfg, log, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer pipelineApp.Close()

	// DBOS is optional; without it only synchronous processing is served
	var dbosRuntime *dbosruntime.Runtime
	if cfg.DBOSDatabaseURL != "" {
		dbosRuntime, err = dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
			DatabaseURL: cfg.DBOSDatabaseURL,
			AppName:     dbosruntime.DefaultAppName,
			QueueName:   cfg.DBOSQueueName,
			Concurrency: cfg.DBOSConcurrency,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize DBOS")
		}
	} else {
		log.Warn().Msg("DBOS_SYSTEM_DATABASE_URL not set, async endpoints disabled")
	}

	// Register workflows before launching DBOS
	workflowRunner := pipelineApp.Runner(dbosRuntime)

	if dbosRuntime != nil {
		if err := dbosRuntime.Launch(); err != nil {
			log.Fatal().Err(err).Msg("Failed to launch DBOS")
		}
		defer dbosRuntime.Shutdown()
	}

	if !cfg.LogPretty {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	handlers.NewHTTPHandler(workflowRunner, pipelineApp.Store, pipelineApp.Images, metricsHandler, log).Register(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Hazard worker starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
