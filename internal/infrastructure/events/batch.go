package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	trading "webhook-bridge/internal/domain/entity/trading"
)

// BatchConfig controls batching thresholds for journal writes.
type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

// EventSink persists a batch of trade events.
type EventSink interface {
	AddEvents(ctx context.Context, events []trading.TradeEvent) error
}

// Acknowledger is the part of amqp.Delivery needed to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type pendingEvent struct {
	event trading.TradeEvent
	ack   Acknowledger
}

// BatchWriter buffers trade events and flushes them when the batch is full
// or the timeout fires, whichever comes first. Each event keeps the delivery
// it arrived on: deliveries are acked only after their batch is stored and
// nacked with requeue when the write fails.
type BatchWriter struct {
	cfg    BatchConfig
	sink   EventSink
	logger *logrus.Entry

	mu      sync.Mutex
	ctx     context.Context
	pending []pendingEvent
	timer   *time.Timer
}

func NewBatchWriter(cfg BatchConfig, sink EventSink, logger *logrus.Logger) *BatchWriter {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	return &BatchWriter{
		cfg:    cfg,
		sink:   sink,
		logger: logger.WithField("component", "batch_writer"),
	}
}

// Run sets the base context for asynchronous flushes.
func (b *BatchWriter) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

// Add buffers one event and takes ownership of ack, which may be nil. When
// the batch fills up it is flushed on the caller's goroutine and the flush
// error is returned. An event that cannot be buffered is nacked right away.
func (b *BatchWriter) Add(event *trading.TradeEvent, ack Acknowledger) error {
	if event == nil {
		b.settle(ack, false, false)
		return errors.New("trade event is nil")
	}

	b.mu.Lock()
	ctx := b.ctx
	if ctx == nil {
		b.mu.Unlock()
		b.settle(ack, false, true)
		return errors.New("batch writer is not running")
	}
	if err := ctx.Err(); err != nil {
		b.mu.Unlock()
		b.settle(ack, false, true)
		return err
	}

	b.pending = append(b.pending, pendingEvent{event: *event, ack: ack})
	var batch []pendingEvent
	if len(b.pending) >= b.cfg.Size {
		batch = b.takeLocked()
	} else if b.timer == nil && b.cfg.Timeout > 0 {
		b.timer = time.AfterFunc(b.cfg.Timeout, b.flushOnTimer)
	}
	b.mu.Unlock()

	return b.flush(ctx, batch)
}

// Stop flushes whatever is buffered using ctx.
func (b *BatchWriter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	b.ctx = ctx
	batch := b.takeLocked()
	b.mu.Unlock()

	return b.flush(ctx, batch)
}

// Pending returns the number of buffered events.
func (b *BatchWriter) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *BatchWriter) flushOnTimer() {
	b.mu.Lock()
	ctx := b.ctx
	batch := b.takeLocked()
	b.mu.Unlock()

	if err := b.flush(ctx, batch); err != nil {
		b.logger.WithError(err).WithField("size", len(batch)).Warn("batch flush failed, deliveries requeued")
	}
}

func (b *BatchWriter) takeLocked() []pendingEvent {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *BatchWriter) flush(ctx context.Context, batch []pendingEvent) error {
	if len(batch) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	events := make([]trading.TradeEvent, len(batch))
	for i, p := range batch {
		events[i] = p.event
	}

	start := time.Now()
	err := b.sink.AddEvents(ctx, events)
	for _, p := range batch {
		b.settle(p.ack, err == nil, true)
	}
	if err != nil {
		return err
	}
	b.logger.WithFields(logrus.Fields{
		"size":    len(batch),
		"took_ms": time.Since(start).Milliseconds(),
	}).Debug("flushed batch")
	return nil
}

// settle acks a stored delivery or nacks it, requeueing when asked.
func (b *BatchWriter) settle(ack Acknowledger, stored, requeue bool) {
	if ack == nil {
		return
	}
	var err error
	if stored {
		err = ack.Ack(false)
	} else {
		err = ack.Nack(false, requeue)
	}
	if err != nil {
		b.logger.WithError(err).Warn("failed to settle delivery")
	}
}
