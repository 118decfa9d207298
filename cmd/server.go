package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RaspiSensing.scylla/internal/config"
	"RaspiSensing.scylla/internal/controller"
	"RaspiSensing.scylla/internal/idgen"
	"RaspiSensing.scylla/internal/metrics"
	"RaspiSensing.scylla/internal/middleware"
	"RaspiSensing.scylla/internal/nodetag"
	"RaspiSensing.scylla/internal/repository"
	"RaspiSensing.scylla/internal/routes"
	"RaspiSensing.scylla/internal/service"
	"RaspiSensing.scylla/internal/tlscert"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", ".env", "env file merged into the environment before reading configuration")
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One session for the life of the process, shared by every request.
	repo, err := repository.Connect(cfg.Scylla, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.UseKeyspace(cfg.Scylla.Keyspace, cfg.Scylla.Table); err != nil {
		return err
	}
	if cfg.Scylla.CreateSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	tagHex := hex.EncodeToString(cfg.NodeTag[:])
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("could not connect to redis (%s): %w", cfg.Redis.Addr, err)
		}
		lease, err := nodetag.Acquire(ctx, redisClient, cfg.NodeTag, cfg.Redis.LeaseTTL, logger, func(err error) {
			logger.Error("shutting down: another writer may now share this node tag", "node_tag", tagHex, "error", err)
			stop()
		})
		if err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				logger.Warn("could not release node tag lease", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_ADDR not set; node tag uniqueness across writers is not checked", "node_tag", tagHex)
	}

	ids, err := idgen.New(cfg.NodeTag)
	if err != nil {
		return err
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Influx.Enabled() {
		influxRecorder, err := metrics.NewInfluxRecorder(ctx, cfg.Influx, cfg.NodeTag, logger)
		if err != nil {
			return err
		}
		defer influxRecorder.Close()
		recorder = influxRecorder
	}

	// Initialize services and controller
	ingest := service.NewIngestService(repo, ids, recorder, logger)
	history := service.NewHistoryService(repo)
	readingController := controller.NewReadingController(ingest, history, cfg.MaxBodyBytes, logger)

	routeOptions := routes.Options{IngestPath: cfg.IngestPath}
	if cfg.Auth.Enabled() {
		guard, err := middleware.RequireToken(cfg.Auth, logger)
		if err != nil {
			return err
		}
		routeOptions.IngestGuard = guard
	}

	var handler http.Handler = middleware.Logging(logger)(routes.SetupRouter(readingController, routeOptions))
	if len(cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		})
		handler = c.Handler(handler)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Handlers wait for the store's acknowledgement, bounded by the
		// driver timeout.
		WriteTimeout: cfg.Scylla.ConnectTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.TLS.SelfSigned {
		generated, err := tlscert.EnsureSelfSigned(cfg.TLS.CertFile, cfg.TLS.KeyFile, []string{cfg.BindAddress})
		if err != nil {
			return fmt.Errorf("error preparing TLS certificate: %w", err)
		}
		if generated {
			logger.Warn("generated a self-signed TLS certificate", "cert", cfg.TLS.CertFile, "key", cfg.TLS.KeyFile)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled() {
			logger.Info("listening for https", "address", server.Addr, "ingest_path", cfg.IngestPath, "node_tag", tagHex)
			serveErr <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		logger.Info("listening for http", "address", server.Addr, "ingest_path", cfg.IngestPath, "node_tag", tagHex)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server is shutting down")
	// Give in-flight inserts time to hear back from the store.
	drain := 5 * time.Second
	if storeWait := cfg.Scylla.ConnectTimeout + time.Second; storeWait > drain {
		drain = storeWait
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
