// Package outbox реализует транзакционный outbox для событий записи.
//
// Событие записывается в той же транзакции, что и изменение агрегата
// (StoreEvent с ctx из repo.TxManager.WithTx), и становится видимым
// публикатору только после фиксации. Отдельный периодический проход
// ProcessOutboxEvents публикует события:
//
//	PENDING → PROCESSING → PROCESSED
//	                    ↘ PENDING (retryCount+1)
//	                    ↘ FAILED (retryCount >= maxRetries)
//
// Захват PENDING → PROCESSING атомарен (FOR UPDATE SKIP LOCKED в PostgreSQL),
// поэтому два публикатора не отправят одно событие дважды.
// FAILED-события возвращаются в очередь только через Redrive.
package outbox
