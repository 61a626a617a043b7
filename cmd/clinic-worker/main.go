// Clinic Worker — обрабатывает команды записи на приём.
//
// Worker:
//   - Получает команды записи из RabbitMQ пулом обработчиков
//   - Проводит каждую через booking.Workflow (идемпотентность, saga, outbox)
//   - Отдаёт неудачные сообщения в DLQ-обработчик с backoff
//   - Обслуживает административный API (/health, /metrics, /api/v1)
//
// Workers масштабируются горизонтально; публикацию outbox выполняет
// clinic-scheduler.
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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/ClinicBooking/internal/api"
	"github.com/shaiso/ClinicBooking/internal/booking"
	"github.com/shaiso/ClinicBooking/internal/breaker"
	"github.com/shaiso/ClinicBooking/internal/config"
	"github.com/shaiso/ClinicBooking/internal/dlq"
	"github.com/shaiso/ClinicBooking/internal/health"
	"github.com/shaiso/ClinicBooking/internal/idempotency"
	"github.com/shaiso/ClinicBooking/internal/mq"
	"github.com/shaiso/ClinicBooking/internal/outbox"
	"github.com/shaiso/ClinicBooking/internal/repo"
	"github.com/shaiso/ClinicBooking/internal/saga"
	"github.com/shaiso/ClinicBooking/internal/scheduler"
	"github.com/shaiso/ClinicBooking/internal/telemetry"
	"github.com/shaiso/ClinicBooking/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting clinic-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("clinic-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("clinic-worker stopped")
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
	publisher := mq.NewPublisher(mqConn, logger, "clinic-worker")
	logger.Info("rabbitmq connected")

	// Redis (опционально): без него хранилища в памяти процесса
	var rdb *redis.Client
	if cfg.UseRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	}

	breakers := breaker.NewRegistry(breakerTemplate(cfg.Breaker, metrics, logger))

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

	var (
		guardStore     idempotency.Store
		sagaStore      saga.ExecutionStore
		retryScheduler dlq.RetryScheduler
	)
	if rdb != nil {
		guardStore = idempotency.NewRedisStore(rdb)
		sagaStore = saga.NewRedisStore(rdb, cfg.Saga.Retention)
		retryScheduler = dlq.NewRedisScheduler(rdb, "")
	} else {
		timers := dlq.NewTimerScheduler()
		defer timers.Stop()
		guardStore = idempotency.NewMemoryStore(nil)
		sagaStore = saga.NewMemoryStore()
		retryScheduler = timers
	}

	guard := idempotency.New(idempotency.Config{
		Store:    guardStore,
		TTL:      cfg.IdemTTL,
		ClaimTTL: cfg.IdemClaim,
		Metrics:  metrics,
		Logger:   logger,
	})

	orch := saga.New(saga.Config{
		Registry:     saga.NewRegistry(),
		Store:        sagaStore,
		BackoffBase:  cfg.Saga.BackoffBase,
		MaxRetryWait: cfg.Saga.MaxRetryWait,
		StepTimeout:  cfg.Saga.StepTimeout,
		Metrics:      metrics,
		Logger:       logger,
	})

	wf := booking.New(booking.Config{
		Tx:       repo.NewTxManager(pool),
		Clinic:   repo.NewClinicRepo(pool),
		Outbox:   ob,
		Notifier: publisher,
		Guard:    guard,
		Saga:     orch,
		Breakers: breakers,
		Metrics:  metrics,
		Logger:   logger,
	})

	deadLetters := dlq.New(dlq.Config{
		MaxRetries:  cfg.DLQ.MaxRetries,
		BaseDelay:   cfg.DLQ.BaseDelay,
		MaxDelay:    cfg.DLQ.MaxDelay,
		Backoff:     cfg.DLQ.Backoff(),
		RedriveRate: cfg.DLQ.RedriveRate,
		Action:      wf.Handle,
		Store:       repo.NewDeadLetterRepo(pool),
		Scheduler:   retryScheduler,
		Breaker:     breakers.Get("dlq"),
		Metrics:     metrics,
		Logger:      logger,
	})

	w := worker.New(worker.Config{
		Processor:    wf,
		DeadLetters:  deadLetters,
		Conn:         mqConn,
		Topology:     topology,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		Metrics:      metrics,
		Logger:       logger,
	})

	// Локальные задачи: не требуют лидерства
	sched := scheduler.New(scheduler.Config{
		Jobs: []scheduler.Job{
			scheduler.IdempotencySweepJob(guard, cfg.Jobs.IdemSweep),
			scheduler.SagaCleanupJob(orch, cfg.Saga.Retention, cfg.Jobs.SagaCleanup),
		},
		Logger: logger,
	})

	handler := api.NewHandler(api.Config{
		Health: &health.Checker{
			Breakers:    breakers,
			Sagas:       orch,
			DeadLetters: deadLetters,
			Outbox:      ob,
			Logger:      logger,
		},
		Sagas:       orch,
		DeadLetters: deadLetters,
		Outbox:      ob,
		Breakers:    breakers,
		Bookings:    publisher,
		Logger:      logger,
	})

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	return serve(ctx, ":"+strconv.Itoa(cfg.WorkerPort), handler.Router(), logger)
}

// serve обслуживает HTTP до отмены ctx и завершает сервер gracefully.
func serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      h,
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
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func breakerTemplate(c config.BreakerConfig, metrics *telemetry.Metrics, logger *slog.Logger) breaker.Config {
	return breaker.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
		MonitoringPeriod: c.MonitoringPeriod,
		Timeout:          c.Timeout,
		OnStateChange: func(name string, from, to breaker.State) {
			metrics.BreakerState(name, string(from), string(to))
		},
		Logger: logger,
	}
}
