// Package scheduler запускает периодические задачи обслуживания.
//
// Задачи выполняются по расписанию robfig/cron (cron-выражение или
// дескриптор @every); следующий запуск пропускается, пока предыдущий
// не завершился.
//
// Структура:
//   - scheduler.go — Scheduler (Start, Stop, Tick, RunJob)
//   - jobs.go      — стандартные задачи: публикация и очистка outbox,
//     очистка идемпотентности и saga
//   - cron.go      — разбор расписаний
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Jobs: []scheduler.Job{
//	        scheduler.OutboxPublishJob(ob, "@every 2s", logger),
//	        scheduler.IdempotencySweepJob(guard, "@every 10m"),
//	    },
//	    Leader: repo.NewAdvisoryLock(pool, lockKey),
//	    Logger: logger,
//	})
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
//
// Leader Election:
//
// Задачи с LeaderOnly выполняются только экземпляром, удерживающим
// pg_try_advisory_lock. Leader == nil — экземпляр единственный.
package scheduler
