package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fraudlens/internal/api"
	"fraudlens/internal/artifact"
	"fraudlens/internal/cfg"
	"fraudlens/internal/explain"
	"fraudlens/internal/metrics"
	"fraudlens/internal/storage"
	"fraudlens/internal/txn"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()
	setupLogging()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	artifacts := initializeArtifacts(ctx, c)
	gen := txn.NewGenerator(c.GeneratorSeed)
	factory := explain.NewFactory(artifacts, gen, c.BackgroundRows, c.KernelSamples, c.GeneratorSeed)
	svc := explain.NewService(artifacts, factory, m, c.TopKDefault)

	startMetricsServer(ctx, c)

	srv := api.NewServer(svc, gen, store, m, c.ListenPort, c.HTTPTimeout)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, srv)
}

func setupLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeStorage opens the scored-transaction store if DATA_PATH is
// configured. The service runs fine without persistence.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath, c.RecentRetention)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// initializeArtifacts optionally fetches model and pipeline files from a
// registry, then sets up the lazily loading store. A failed fetch is not
// fatal: the directory may already hold artifacts from a previous run.
func initializeArtifacts(ctx context.Context, c cfg.Settings) *artifact.Store {
	if c.ArtifactURL != "" {
		fetcher := artifact.NewFetcher(c.HTTPTimeout)
		if err := fetcher.Fetch(ctx, c.ArtifactURL, c.ArtifactDir); err != nil {
			log.Warn().Err(err).Str("url", c.ArtifactURL).Msg("artifact fetch failed, using local files")
		}
	}
	return artifact.New(c.ArtifactDir)
}

func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// waitForShutdown blocks until a signal arrives or the context ends, then
// drains the API server with a timeout.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, srv *api.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
}
