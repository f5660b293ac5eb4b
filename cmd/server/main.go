package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/fare"
	httpapi "github.com/example/ride-lifecycle/internal/http"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/mirror"
	"github.com/example/ride-lifecycle/internal/notify"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/ride"
	"github.com/example/ride-lifecycle/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.RideStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		if cfg.RunMigrations {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql")); err == nil {
				if _, err := ps.DB().Exec(string(b)); err != nil {
					logger.Error("migration failed", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_rides.sql")
				}
			}
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	wsreg := notify.NewWSRegistry()
	notifiers := notify.Multi{wsreg}
	if cfg.FCMEndpoint != "" {
		notifiers = append(notifiers, notify.NewFCMNotifier(cfg.FCMEndpoint, cfg.FCMKey))
	}

	coord := &ride.Coordinator{
		Store:         store,
		Notifier:      notifiers,
		Fare:          fare.NewEstimator(cfg.FareBase, cfg.FarePerKm, 5*time.Minute),
		Logger:        logger,
		OpenRideLimit: cfg.OpenRideLimit,
		SinkTimeout:   cfg.SinkTimeout,
	}
	if cfg.RedisAddr != "" {
		coord.Mirror = mirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisMirrorKey)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		coord.Events = kp
	}
	if cfg.StripeAPIKey != "" {
		coord.Payments = payments.NewStripeProcessor(cfg.StripeAPIKey, cfg.FareCurrency)
	}

	srv := httpapi.NewServer(coord, auth.NewJWTProvider(cfg.JWTSecret), wsreg, notifiers, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-lifecycle listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	coord.DrainSinks()
}
