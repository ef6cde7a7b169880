// Package main provides the entrypoint for the aqfusion refresh worker.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/breatheroute/aqfusion/internal/api/middleware"
	"github.com/breatheroute/aqfusion/internal/api/response"
	"github.com/breatheroute/aqfusion/internal/app"
	"github.com/breatheroute/aqfusion/internal/config"
	"github.com/breatheroute/aqfusion/internal/telemetry"
	"github.com/breatheroute/aqfusion/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqfusion-worker"

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := app.NewLogger(cfg, serviceName, Version)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("build_time", BuildTime).Msg("starting aqfusion worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	pipelineMetrics, err := telemetry.NewPipelineMetrics(telemetry.Meter(telemetry.PipelineMeterName))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline metrics")
	}

	svc, err := app.New(ctx, cfg, log, pipelineMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer svc.Close()

	refreshCfg := worker.DefaultRefreshConfig()
	refreshCfg.Query = svc.Query
	refreshCfg.Targets = append(refreshCfg.Targets, worker.TargetFromCatalog(svc.Catalog, 10))
	refreshCfg.Concurrency = cfg.Worker.Concurrency
	refreshCfg.Timeout = cfg.Worker.Timeout
	refreshCfg.RefreshWeather = svc.Weather != nil

	jobCfg := worker.RefreshJobConfig{
		Config:     refreshCfg,
		Logger:     log.With().Str("component", "refresh").Logger(),
		Aggregates: svc.Aggregates,
		History:    svc.History,
		Publisher:  svc.Publisher,
	}
	if svc.Weather != nil {
		jobCfg.Weather = svc.Weather
	}
	job := worker.NewRefreshJob(jobCfg)

	g, gctx := errgroup.WithContext(ctx)

	scheduler := worker.NewScheduler(worker.SchedulerConfig{
		Job:          job,
		Logger:       log,
		Interval:     cfg.Worker.RefreshInterval,
		InitialDelay: cfg.Worker.InitialDelay,
	})
	g.Go(func() error {
		return ignoreCanceled(scheduler.Start(gctx))
	})

	if cfg.Worker.PubSubProject != "" {
		handler, err := worker.NewPubSubHandler(gctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.PubSubProject,
			SubscriptionName: cfg.Worker.Subscription,
			Job:              job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create Pub/Sub handler")
		}
		defer func() { _ = handler.Close() }()
		g.Go(func() error {
			return ignoreCanceled(handler.Start(gctx))
		})
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Worker.Port),
		Handler:      healthRouter(log, job),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}

// healthRouter serves liveness and the refresh counters for Cloud Run probes.
func healthRouter(log zerolog.Logger, job *worker.RefreshJob) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, job.MetricsSnapshot())
	})
	return r
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
