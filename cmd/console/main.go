package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nadmax/searcheval/internal/api"
	"github.com/nadmax/searcheval/internal/client"
	"github.com/nadmax/searcheval/internal/config"
	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/nadmax/searcheval/internal/launcher"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/middleware"
	"github.com/nadmax/searcheval/internal/notify"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/progress"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// snapshotStore is satisfied by both the Redis and the in-memory progress stores.
type snapshotStore interface {
	progress.Reader
	poller.Observer
	Prune(cutoff time.Time) (int, error)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Default().WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := client.New(client.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	})

	store, closeStore, err := openSnapshotStore(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to open progress store")
		os.Exit(1)
	}
	defer closeStore()

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to configure notifications")
		os.Exit(1)
	}

	l := launcher.New(backend, launcher.Config{
		Interval:  cfg.Poll.Interval,
		Timeout:   cfg.Poll.Timeout,
		Logger:    log,
		Observers: []poller.Observer{store},
		Notifier:  notifier,
		OnFinish: func(o launcher.Outcome) {
			if errors.Is(o.Err, launcher.ErrCancelled) {
				return
			}
			log.WithView(o.View).Info("job finished", "task_kind", string(o.Kind), "task_id", o.TaskID,
				"success", o.Success(), "queries_refreshed", len(o.Queries))
		},
	})
	defer l.Close()

	if jobs, err := l.Resume(ctx, launcher.DefaultView); err != nil {
		log.WithError(err).Warn("could not resume running tasks")
	} else if len(jobs) > 0 {
		log.Info("resumed running tasks", "count", len(jobs))
	}

	apiHandler := api.NewAPI(api.Deps{
		Launcher:  l,
		Reports:   backend,
		Judgments: judgment.NewStore(backend, log),
		Snapshots: store,
		Logger:    log,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiHandler)

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           middleware.MetricsMiddleware(middleware.LoggingMiddleware(log)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		// the synchronous evaluation run can take as long as the backend does
		WriteTimeout: cfg.Backend.Timeout + 10*time.Second,
	}

	go startMetricsCollector(ctx, store, log)
	go startSnapshotPruner(ctx, store, cfg.Console.SnapshotRetention, log)

	go func() {
		log.Info("console starting", "addr", srv.Addr, "backend", backend.BaseURL())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("console server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

func openSnapshotStore(cfg *config.Config, log *logger.Logger) (snapshotStore, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info("no redis configured, keeping job snapshots in memory")
		return progress.NewMemory(), func() {}, nil
	}

	store, err := progress.NewStore(cfg.Redis.Addr, log)
	if err != nil {
		return nil, nil, err
	}

	log.Info("connected to redis", "addr", cfg.Redis.Addr)
	return store, func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close progress store")
		}
	}, nil
}

func buildNotifier(cfg *config.Config, log *logger.Logger) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if !cfg.Notify.Enabled() {
		return notifiers, nil
	}

	email, err := notify.NewEmailNotifier(notify.EmailConfig{
		APIKey:       cfg.Notify.SendGridAPIKey,
		FromName:     cfg.Notify.FromName,
		FromAddress:  cfg.Notify.FromAddress,
		Recipients:   cfg.Notify.Recipients,
		OnlyFailures: cfg.Notify.OnlyFailures,
	})
	if err != nil {
		return nil, err
	}

	log.Info("email notifications enabled", "recipients", len(cfg.Notify.Recipients))
	return append(notifiers, email), nil
}
