// Package worker потребляет команды записи из RabbitMQ.
//
// # Обзор
//
// Worker — stateless компонент, который читает очередь
// appointments.booking пулом обработчиков и передаёт каждое
// сообщение в booking.Workflow. Workers масштабируются
// горизонтально: несколько экземпляров потребляют из одной очереди.
//
// # Обработка ошибок
//
// Сообщение всегда подтверждается после передачи в dlq.Handler:
//
//	Process → ok            → ack
//	Process → ошибка        → dlq.HandleFailedMessage → ack
//	HandleFailedMessage err → nack (requeue)
//
// Сообщения, отправленные брокером в appointments.booking.dead
// (quorum-очередь превысила delivery-limit), сохраняются в DLQ без повторов.
//
// # Polling
//
// Повторы DLQ с RedisScheduler хранятся в sorted set;
// Worker забирает созревшие каждые PollInterval.
//
//	w := worker.New(worker.Config{
//	    Processor:   workflow,
//	    DeadLetters: dlqHandler,
//	    Conn:        conn,
//	})
//	w.Start(ctx)
//	defer w.Stop()
package worker
