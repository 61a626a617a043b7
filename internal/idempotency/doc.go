// Package idempotency защищает обработку сообщений от повторной доставки.
//
// Ключ сообщения — id транспорта, а при его отсутствии SHA-256 тела.
// Жизненный цикл сообщения:
//
//	received → (дубликат по ключу? → skip)
//	         → (дубликат по содержимому? → skip и ссылка на оригинал)
//	         → processing (Claim, result=retry)
//	         → processed-success | processed-failure
//
// Claim использует атомарный PutIfAbsent, а перезахват после failure
// или истёкшего захвата — compare-and-set ReplaceIf. Из двух конкурентных
// доставок одного сообщения дальше проходит только одна.
// Записи живут TTL (по умолчанию 24h) и удаляются Sweep или TTL Redis.
package idempotency
