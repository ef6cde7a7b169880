// Package main provides the entrypoint for the aqfusion API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/api"
	"github.com/breatheroute/aqfusion/internal/api/handler"
	"github.com/breatheroute/aqfusion/internal/api/middleware"
	"github.com/breatheroute/aqfusion/internal/app"
	"github.com/breatheroute/aqfusion/internal/config"
	"github.com/breatheroute/aqfusion/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqfusion-api"

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := app.NewLogger(cfg, serviceName, Version)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting aqfusion API")

	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP metrics")
	}
	pipelineMetrics, err := telemetry.NewPipelineMetrics(telemetry.Meter(telemetry.PipelineMeterName))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline metrics")
	}

	svc, err := app.New(ctx, cfg, log, pipelineMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer svc.Close()

	routerCfg := api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Aggregates:  svc.Aggregates,
		Snapshots:   svc.Assembler,
		Query:       svc.Query,
		Catalog:     svc.Catalog,
		Matcher:     svc.Matcher,
		History:     svc.History,
		Schema:      svc.Schema,
		Registry:    svc.Registry,
		RequireTLS:  cfg.Environment == "production",
		RateLimit:   cfg.HTTP.RateLimit,
	}
	if svc.Weather != nil {
		routerCfg.Weather = svc.Weather
	}
	if svc.Pool != nil {
		routerCfg.Database = handler.Pinger(svc.Pool)
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
