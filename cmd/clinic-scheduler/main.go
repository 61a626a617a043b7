// Clinic Scheduler — публикует события outbox и обслуживает его.
//
// Scheduler:
//   - Выбирает лидера через pg_try_advisory_lock
//   - Лидер публикует PENDING-события outbox в RabbitMQ
//   - Лидер удаляет опубликованные события и освобождает зависшие захваты
//   - Все экземпляры обновляют метрики backlog и обслуживают API
//
// Экземпляров может быть несколько; публикует только лидер.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/ClinicBooking/internal/api"
	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/config"
	"github.com/shaiso/ClinicBooking/internal/health"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/repo"
	"github.com/shaiso/ClinicBooking/internal/scheduler"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting clinic-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("clinic-scheduler failed", "error", err)
		os.Exit(1)
	}
	logger.Info("clinic-scheduler stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer mqConn.Close()

	topology := mq.Topology{BookingQueue: mq.Queue(cfg.Worker.BookingQueue)}
	if err := mq.SetupTopology(ctx, mqConn, topology); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	publisher := mq.NewPublisher(mqConn, logger, "clinic-scheduler")
	logger.Info("rabbitmq connected")

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
		Timeout:          cfg.Breaker.Timeout,
		OnStateChange: func(name string, from, to breaker.State) {
			metrics.BreakerState(name, string(from), string(to))
		},
		Logger: logger,
	})

	ob := outbox.New(outbox.Config{
		Store:      repo.NewOutboxRepo(pool),
		Publisher:  mq.NewEventPublisher(publisher),
		Breaker:    breakers.Get("outbox"),
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
		Retention:  cfg.Outbox.Retention,
		StuckAfter: cfg.Outbox.StuckAfter,
		Metrics:    metrics,
		Logger:     logger,
	})

	lock := repo.NewAdvisoryLock(pool, schedLockKey)
	defer func() {
		if !lock.Held() {
			return
		}
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("failed to release leader lock", "error", err)
		}
	}()

	sched := scheduler.New(scheduler.Config{
		Jobs: []scheduler.Job{
			scheduler.OutboxPublishJob(ob, cfg.Jobs.OutboxPublish, logger),
			scheduler.OutboxCleanupJob(ob, cfg.Jobs.OutboxCleanup),
			scheduler.OutboxReleaseStuckJob(ob, cfg.Jobs.OutboxStuck),
			scheduler.OutboxStatsJob(ob, cfg.Jobs.OutboxStats),
		},
		Leader: lock,
		Logger: logger,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	handler := api.NewHandler(api.Config{
		Health: &health.Checker{
			Breakers: breakers,
			Outbox:   ob,
			Logger:   logger,
		},
		Outbox:   ob,
		Breakers: breakers,
		Bookings: publisher,
		Logger:   logger,
	})

	addr := ":" + strconv.Itoa(cfg.SchedulerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
