// Package pipeline wires the conversion and transmission stages onto the
// queue fabric with a fixed pool of concurrent consumers per queue.
package pipeline

import (
	"context"
	"sync"
	"time"

	"adt-bridge/internal/observability"
	"adt-bridge/internal/queue"

	"github.com/sirupsen/logrus"
)

// Handler processes one delivery payload. A nil return completes the
// delivery; a permanent error completes (drops) it; any other error
// abandons it for a later attempt.
type Handler func(ctx context.Context, delivery queue.Delivery) error

// Consumer runs a worker pool over one queue.
type Consumer struct {
	broker  queue.Broker
	queue   string
	handler Handler
	workers int
	wait    time.Duration
	logger  *logrus.Logger

	wg sync.WaitGroup
}

type ConsumerConfig struct {
	Queue   string
	Workers int
	Wait    time.Duration
}

func NewConsumer(broker queue.Broker, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	return &Consumer{
		broker:  broker,
		queue:   cfg.Queue,
		handler: handler,
		workers: cfg.Workers,
		wait:    cfg.Wait,
		logger:  observability.GetLogger(),
	}
}

// Run consumes until ctx is cancelled. On cancellation the fetch loop stops
// issuing new receives and the workers drain whatever is already in flight,
// redeeming every outstanding lease before returning.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.WithFields(logrus.Fields{
		"queue":   c.queue,
		"workers": c.workers,
	}).Info("Starting consumer")

	deliveries := make(chan queue.Delivery, c.workers)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	c.wg.Add(1)
	go c.fetch(ctx, deliveries)

	c.wg.Wait()
	c.logger.WithField("queue", c.queue).Info("Consumer stopped")
}

func (c *Consumer) fetch(ctx context.Context, deliveries chan<- queue.Delivery) {
	defer c.wg.Done()
	defer close(deliveries)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := c.broker.Receive(ctx, c.queue, c.workers, c.wait)
		if err != nil {
			if ctx.Err() != nil {
				c.requeue(batch)
				return
			}
			c.logger.WithError(err).WithField("queue", c.queue).Error("Failed to receive messages")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, delivery := range batch {
			select {
			case deliveries <- delivery:
			case <-ctx.Done():
				c.redeem(delivery, context.Canceled)
				return
			}
		}
	}
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan queue.Delivery) {
	defer c.wg.Done()

	for delivery := range deliveries {
		err := c.handler(ctx, delivery)
		c.redeem(delivery, err)
	}
	c.logger.WithFields(logrus.Fields{
		"queue":     c.queue,
		"worker_id": id,
	}).Debug("Worker stopped")
}

// redeem settles the delivery's lease. Redemption uses its own context so a
// lease still clears during shutdown drain.
func (c *Consumer) redeem(delivery queue.Delivery, handlerErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case handlerErr == nil:
		if err := c.broker.Complete(ctx, delivery.Handle); err != nil {
			c.logger.WithError(err).WithField("queue", c.queue).Error("Failed to complete delivery")
		}
	case IsPermanent(handlerErr):
		c.logger.WithError(handlerErr).WithField("queue", c.queue).Warn("Dropping unprocessable message")
		if err := c.broker.Complete(ctx, delivery.Handle); err != nil {
			c.logger.WithError(err).WithField("queue", c.queue).Error("Failed to complete delivery")
		}
	default:
		c.logger.WithError(handlerErr).WithField("queue", c.queue).Error("Processing failed, abandoning delivery")
		if err := c.broker.Abandon(ctx, delivery.Handle); err != nil {
			c.logger.WithError(err).WithField("queue", c.queue).Error("Failed to abandon delivery")
		}
	}
}

func (c *Consumer) requeue(batch []queue.Delivery) {
	for _, delivery := range batch {
		c.redeem(delivery, context.Canceled)
	}
}
