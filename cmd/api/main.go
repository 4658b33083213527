package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"disputeflow/auth"
	"disputeflow/config"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/events"
	"disputeflow/lock"
	"disputeflow/logger"
	"disputeflow/mailer"
	"disputeflow/metrics"
	"disputeflow/notification"
	"disputeflow/suggestion"
)

const lockTTL = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("disputeflow api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collected := metrics.New()
	collected.MustRegister(registry)

	var publisher interface {
		dispute.EventPublisher
		Close() error
	} = events.Nop{}
	if cfg.Kafka.Enabled() {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		if err != nil {
			return err
		}
		publisher = kp
		slog.Info("kafka events enabled", "brokers", cfg.Kafka.Brokers)
	}
	defer publisher.Close()

	var locker dispute.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Enabled() {
		client, err := lock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, lockTTL)
		slog.Info("redis dispute locks enabled")
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	notifications := notification.NewService(notification.NewRepository(pool))

	disputeRepo := dispute.NewRepository(pool)
	disputes := dispute.NewService(disputeRepo).
		WithNotifier(notifications).
		WithMailer(mailer.New(cfg.SMTP)).
		WithDirectory(accountDirectory{accounts: authService}).
		WithEvents(publisher).
		WithLocker(locker).
		WithMetrics(collected).
		WithBaseURL(cfg.AppBaseURL)

	if !cfg.Completion.Enabled() {
		slog.Warn("completion API key missing; suggestions will report a configuration error")
	}
	completer := suggestion.NewClient(cfg.Completion).WithMetrics(collected)
	suggestions := suggestion.NewService(disputeRepo, completer).WithMetrics(collected)

	server := &Server{
		auth:          authService,
		disputes:      disputes,
		suggestions:   suggestions,
		notifications: notifications,
		metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		corsOrigins:   cfg.CORSOrigins,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("disputeflow api listening", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	err = httpServer.Shutdown(shutdownCtx)
	disputes.Wait()
	return err
}
