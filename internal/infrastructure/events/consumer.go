package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"webhook-bridge/internal/config"
)

// Consumer binds an exclusive queue to the trade exchange and forwards
// events into the journal through a batch writer.
type Consumer struct {
	cfg     config.RabbitMQConfig
	logger  *logrus.Logger
	batcher *BatchWriter

	tag     string
	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup
}

func NewConsumer(cfg config.RabbitMQConfig, sink EventSink, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}
	batchCfg := BatchConfig{
		Size:    cfg.BatchSize,
		Timeout: cfg.BatchTimeout,
	}
	return &Consumer{
		cfg:     cfg,
		tag:     "trade-journal-" + uuid.NewString(),
		logger:  logger,
		batcher: NewBatchWriter(batchCfg, sink, logger),
	}, nil
}

// Start connects and begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.conn = conn
	c.batcher.Run(ctx)

	deliveries, err := c.subscribe()
	if err != nil {
		c.Close(ctx)
		return err
	}

	c.wg.Add(1)
	go c.consumeLoop(ctx, deliveries)

	c.logger.WithField("exchange", c.cfg.Exchange).Info("rabbitmq consumer started")
	return nil
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", c.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue %s to %s: %w", queue.Name, c.cfg.Exchange, err)
	}
	// unacked deliveries wait in the batch, so a full batch must fit the window
	prefetch := max(c.cfg.Prefetch, c.cfg.BatchSize, 1)
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, c.tag, false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("start consume: %w", err)
	}
	c.channel = ch
	return deliveries, nil
}

// Close stops consumption, flushes pending events while the channel can
// still settle their deliveries, then releases resources.
func (c *Consumer) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.channel != nil {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			c.logger.WithError(err).Warn("failed to cancel consumer")
		}
	}
	c.wg.Wait()
	err := c.batcher.Stop(ctx)

	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.process(delivery.Body, &delivery)
		}
	}
}

// process hands one message to the batch writer, which acks it once stored.
// Malformed messages are dropped.
func (c *Consumer) process(body []byte, ack Acknowledger) {
	log := c.logger.WithField("component", "event_consumer")

	event, err := decodeMessage(body)
	if err != nil {
		log.WithError(err).Warn("dropping malformed message")
		_ = ack.Nack(false, false)
		return
	}
	if err := c.batcher.Add(event, ack); err != nil {
		log.WithError(err).Warn("failed to store trade events, deliveries requeued")
	}
}
