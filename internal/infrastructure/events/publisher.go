package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"webhook-bridge/internal/config"
	trading "webhook-bridge/internal/domain/entity/trading"
	interfaces "webhook-bridge/internal/domain/interfaces"
)

var _ interfaces.EventPublisher = (*Publisher)(nil)

// Publisher sends trade events to a durable fanout exchange.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	timeout  time.Duration
	logger   *logrus.Entry
	mu       sync.Mutex
}

func NewPublisher(cfg config.RabbitMQConfig, logger *logrus.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		timeout:  cfg.PublishTimeout,
		logger:   logger.WithField("component", "event_publisher"),
	}, nil
}

func (p *Publisher) PublishTradeEvent(ctx context.Context, event *trading.TradeEvent) error {
	if event == nil {
		return errors.New("trade event is nil")
	}
	body, err := encodeMessage(event)
	if err != nil {
		return err
	}

	// the webhook context is cancelled as soon as the reply is written
	ctx = context.WithoutCancel(ctx)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    time.Now().UTC(),
		Type:         MessageTradeExecuted,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish trade event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id": event.ID.String(),
		"symbol":   event.Symbol,
		"success":  event.Success,
	}).Debug("trade event published")
	return nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.channel.Close(); err != nil {
		p.logger.Errorf("close rabbitmq channel: %v", err)
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Errorf("close rabbitmq connection: %v", err)
	}
}
