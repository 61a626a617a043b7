package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job — периодическая задача.
type Job struct {
	// Name — имя задачи для логов.
	Name string

	// Spec — расписание: cron-выражение или дескриптор (@every 2s, @hourly).
	Spec string

	// LeaderOnly — выполнять только на экземпляре, удерживающем лидерство.
	LeaderOnly bool

	Run func(ctx context.Context) error
}

// Leader — выбор лидера между экземплярами. Реализация: repo.AdvisoryLock.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Scheduler запускает периодические задачи обслуживания.
//
// Следующий запуск задачи пропускается, пока предыдущий не завершился.
// Ошибка одной задачи не влияет на остальные.
type Scheduler struct {
	jobs   []Job
	leader Leader
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// Config — конфигурация Scheduler.
type Config struct {
	Jobs []Job

	// Leader — если nil, экземпляр всегда считается лидером.
	Leader Leader

	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		jobs:   cfg.Jobs,
		leader: cfg.Leader,
		logger: logger,
	}
}

// Start регистрирует задачи и запускает cron.
// Возвращает ошибку, если расписание задачи некорректно.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	adapter := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	for _, job := range s.jobs {
		job := job
		if err := ValidateSpec(job.Spec); err != nil {
			cancel()
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		if _, err := c.AddFunc(job.Spec, func() { s.runJob(runCtx, job) }); err != nil {
			cancel()
			return fmt.Errorf("schedule job %s: %w", job.Name, err)
		}
	}

	s.cron = c
	s.cancel = cancel
	s.running = true
	c.Start()

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop останавливает cron и ждёт завершения выполняющихся задач.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	done := c.Stop()
	cancel()
	<-done.Done()

	s.logger.Info("scheduler stopped")
}

// Tick выполняет все задачи один раз по порядку.
//
// Ошибки одной задачи не блокируют выполнение остальных;
// возвращается их объединение.
func (s *Scheduler) Tick(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if err := s.runJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RunJob выполняет задачу по имени.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.runJob(ctx, job)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// runJob выполняет задачу с проверкой лидерства.
func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return nil
	}

	if job.LeaderOnly && !s.isLeader(ctx) {
		s.logger.Debug("not a leader, skipping job", "job", job.Name)
		return nil
	}

	if err := job.Run(ctx); err != nil {
		s.logger.Error("scheduled job failed", "job", job.Name, "error", err)
		return err
	}
	return nil
}

func (s *Scheduler) isLeader(ctx context.Context) bool {
	if s.leader == nil {
		return true
	}
	ok, err := s.leader.TryAcquire(ctx)
	if err != nil {
		s.logger.Warn("leader election failed", "error", err)
		return false
	}
	return ok
}

// cronLogger направляет логи robfig/cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
