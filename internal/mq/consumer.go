package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Handler — функция обработки сообщения.
// Ошибка означает, что сообщение нужно вернуть в очередь (nack с requeue).
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// MessageID — id сообщения транспорта (AMQP message-id или id конверта).
	MessageID string

	// Body — исходное тело сообщения.
	Body []byte

	// Envelope — разобранный конверт; nil для legacy-сообщения.
	Envelope *Envelope

	// AttemptCount — номер попытки обработки (с 1).
	AttemptCount int

	Redelivered bool
	Headers     amqp.Table

	raw amqp.Delivery
}

// Payload возвращает data конверта или всё тело для legacy-сообщения.
func (d *Delivery) Payload() []byte {
	if d.Envelope != nil {
		return d.Envelope.Data
	}
	return d.Body
}

// NewDelivery разбирает AMQP-доставку.
func NewDelivery(raw amqp.Delivery) *Delivery {
	env, _ := ParseEnvelope(raw.Body)

	id := raw.MessageId
	if id == "" && env != nil {
		id = env.ID
	}

	return &Delivery{
		MessageID:    id,
		Body:         raw.Body,
		Envelope:     env,
		AttemptCount: attemptCount(raw.Headers, env, raw.Redelivered),
		Redelivered:  raw.Redelivered,
		Headers:      raw.Headers,
		raw:          raw,
	}
}

// attemptCount вычисляет номер попытки.
//
// x-delivery-count quorum-очереди считает предыдущие доставки;
// иначе используется retryCount конверта, затем флаг redelivered.
func attemptCount(headers amqp.Table, env *Envelope, redelivered bool) int {
	if n, ok := headerInt(headers, "x-delivery-count"); ok && n >= 0 {
		return n + 1
	}
	if env != nil && env.RetryCount != nil && *env.RetryCount >= 0 {
		return *env.RetryCount + 1
	}
	if redelivered {
		return 2
	}
	return 1
}

// headerInt читает целочисленный заголовок любого AMQP-типа.
func headerInt(headers amqp.Table, key string) (int, bool) {
	v, ok := headers[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Consumer потребляет сообщения из очереди RabbitMQ пулом воркеров.
type Consumer struct {
	conn        *Connection
	logger      *slog.Logger
	queue       Queue
	handler     Handler
	prefetch    int
	concurrency int

	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Concurrency — число параллельных обработчиков (default: 1).
	Concurrency int

	// Prefetch — количество сообщений для предварительной загрузки (default: Concurrency).
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:        conn,
		logger:      logger,
		queue:       cfg.Queue,
		handler:     cfg.Handler,
		prefetch:    prefetch,
		concurrency: concurrency,
	}
}

// Start запускает потребление и блокируется до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer cancel()

	return c.consume(ctx)
}

// consume — основной цикл потребления с переподключением.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started", "queue", c.queue, "concurrency", c.concurrency)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) waitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
		return nil
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		"",              // consumer tag (auto-generated)
		false,           // auto-ack (мы ack вручную)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

var errDeliveriesClosed = errors.New("deliveries channel closed")

// processDeliveries раздаёт сообщения воркерам.
// Каждый воркер обрабатывает одно сообщение за раз; при остановке
// текущие сообщения дообрабатываются.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	g := new(errgroup.Group)

	for i := 0; i < c.concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case raw, ok := <-deliveries:
					if !ok {
						return errDeliveriesClosed
					}
					// Обработка не прерывается отменой ctx потребителя.
					c.handleDelivery(context.WithoutCancel(ctx), raw)
				}
			}
		})
	}

	return g.Wait()
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	d := NewDelivery(raw)

	c.logger.Debug("received message",
		"queue", c.queue,
		"message_id", d.MessageID,
		"attempt", d.AttemptCount,
		"legacy", d.Envelope == nil,
	)

	if err := c.handler(ctx, d); err != nil {
		c.logger.Error("handler failed, requeueing",
			"queue", c.queue,
			"message_id", d.MessageID,
			"error", err,
		)
		if err := raw.Nack(false, true); err != nil {
			c.logger.Warn("nack failed", "message_id", d.MessageID, "error", err)
		}
		return
	}

	if err := raw.Ack(false); err != nil {
		c.logger.Warn("ack failed", "message_id", d.MessageID, "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}
