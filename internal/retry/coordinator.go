// Package retry owns the bounded-retry state machine for failed
// transmissions: periodic sweeps over the retry queue, exponential backoff,
// and terminal failure marking once the attempt bound is reached.
package retry

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"adt-bridge/internal/observability"
	"adt-bridge/internal/pipeline"
	"adt-bridge/internal/queue"
	"adt-bridge/internal/store"
	"adt-bridge/pkg/models"

	"github.com/sirupsen/logrus"
)

// Coordinator sweeps the retry queue on a fixed interval. Backoff is
// applied in-worker only: the ticket carries its enqueue time and the
// worker waits out the remaining portion of baseDelay * 2^(n-1) before
// retransmitting. Attempt 1 has no delay. Requeued tickets are published
// immediately with an incremented count and the original delivery is
// completed, so every lock handle is redeemed exactly once.
type Coordinator struct {
	broker      queue.Broker
	transmitter pipeline.Transmitter
	store       store.MessageStore
	attempts    store.AttemptStore
	logger      *logrus.Logger
	metrics     observability.MetricsCollector

	queueName     string
	maxAttempts   int
	baseDelay     time.Duration
	sweepInterval time.Duration
	batchSize     int
	receiveWait   time.Duration
	now           func() time.Time
}

type Config struct {
	Queue         string
	MaxAttempts   int
	BaseDelay     time.Duration
	SweepInterval time.Duration
	BatchSize     int
	ReceiveWait   time.Duration
	Metrics       observability.MetricsCollector
}

func NewCoordinator(broker queue.Broker, transmitter pipeline.Transmitter, messageStore store.MessageStore, attempts store.AttemptStore, cfg Config) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	return &Coordinator{
		broker:        broker,
		transmitter:   transmitter,
		store:         messageStore,
		attempts:      attempts,
		logger:        observability.GetLogger(),
		metrics:       cfg.Metrics,
		queueName:     cfg.Queue,
		maxAttempts:   cfg.MaxAttempts,
		baseDelay:     cfg.BaseDelay,
		sweepInterval: cfg.SweepInterval,
		batchSize:     cfg.BatchSize,
		receiveWait:   cfg.ReceiveWait,
		now:           time.Now,
	}
}

// Run sweeps until ctx is cancelled. A single loop instance: sweeps never
// overlap.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info("Retry coordinator starting")
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Retry coordinator stopping")
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep processes one batch of retry tickets.
func (c *Coordinator) Sweep(ctx context.Context) {
	deliveries, err := c.broker.Receive(ctx, c.queueName, c.batchSize, c.receiveWait)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.WithError(err).Error("Failed to receive retry tickets")
		}
		c.release(deliveries)
		return
	}

	for i, delivery := range deliveries {
		if ctx.Err() != nil {
			c.release(deliveries[i:])
			return
		}
		c.process(ctx, delivery)
	}
}

func (c *Coordinator) process(ctx context.Context, delivery queue.Delivery) {
	var ticket models.RetryTicket
	if err := json.Unmarshal(delivery.Payload, &ticket); err != nil {
		c.logger.WithError(err).Warn("Dropping undecodable retry ticket")
		c.complete(delivery.Handle)
		return
	}

	logger := c.logger.WithFields(logrus.Fields{
		"message_id": ticket.MessageID,
		"attempt":    ticket.AttemptCount,
	})

	if !c.waitBackoff(ctx, ticket) {
		// Shutdown mid-backoff: return the ticket untouched.
		c.abandon(delivery.Handle)
		return
	}

	logger.Info("Retrying message")
	attempt := c.transmitter.Transmit(ctx, ticket.MessageID, ticket.HL7)
	if err := c.attempts.Record(ctx, attempt); err != nil {
		logger.WithError(err).Error("Failed to record delivery attempt")
	}

	switch {
	case attempt.Success:
		c.updateStatus(ctx, ticket.MessageID, models.StatusSent)
		c.complete(delivery.Handle)
		logger.Info("Retry successful")

	case ticket.AttemptCount >= c.maxAttempts:
		c.updateStatus(ctx, ticket.MessageID, models.StatusFailed)
		c.complete(delivery.Handle)
		c.metrics.IncExhausted()
		logger.Warn("Max retry attempts reached, message marked Failed")

	default:
		if err := c.requeue(ctx, ticket, attempt); err != nil {
			logger.WithError(err).Error("Failed to requeue retry ticket")
			c.abandon(delivery.Handle)
			return
		}
		c.complete(delivery.Handle)
		c.metrics.IncRetried()
		logger.Info("Retry failed, ticket requeued")
	}
}

// waitBackoff blocks for the remaining backoff of the ticket's attempt.
// Returns false if the context was cancelled before the delay elapsed.
func (c *Coordinator) waitBackoff(ctx context.Context, ticket models.RetryTicket) bool {
	delay := DelayFor(ticket.AttemptCount, c.baseDelay)
	if delay == 0 {
		return true
	}
	remaining := delay - c.now().Sub(ticket.EnqueuedAt)
	if remaining <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(remaining):
		return true
	}
}

// DelayFor computes the backoff before attempt n: baseDelay * 2^(n-1) for
// n > 1, zero otherwise.
func DelayFor(attempt int, baseDelay time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return baseDelay * time.Duration(1<<uint(attempt-1))
}

func (c *Coordinator) requeue(ctx context.Context, ticket models.RetryTicket, attempt models.DeliveryAttempt) error {
	next := models.RetryTicket{
		MessageID:    ticket.MessageID,
		HL7:          ticket.HL7,
		AttemptCount: ticket.AttemptCount + 1,
		EnqueuedAt:   c.now().UTC(),
	}
	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, c.queueName, next.MessageID, payload, map[string]string{
		models.HeaderMessageID:     next.MessageID,
		models.HeaderRetryCount:    strconv.Itoa(next.AttemptCount),
		models.HeaderFailureReason: attempt.ErrorDetail,
	})
}

func (c *Coordinator) updateStatus(ctx context.Context, messageID string, status models.MessageStatus) {
	if err := c.store.UpdateStatus(ctx, messageID, status); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"message_id": messageID,
			"status":     status,
		}).Error("Failed to update message status")
	}
}

// complete and abandon settle leases with their own context so that a
// shutdown drain still clears them.
func (c *Coordinator) complete(handle queue.LockHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.broker.Complete(ctx, handle); err != nil {
		c.logger.WithError(err).Error("Failed to complete retry delivery")
	}
}

func (c *Coordinator) abandon(handle queue.LockHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.broker.Abandon(ctx, handle); err != nil {
		c.logger.WithError(err).Error("Failed to abandon retry delivery")
	}
}

func (c *Coordinator) release(deliveries []queue.Delivery) {
	for _, delivery := range deliveries {
		c.abandon(delivery.Handle)
	}
}
