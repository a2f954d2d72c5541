package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adt-bridge/internal/observability"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaBroker implements Broker on Kafka topics. Offsets are committed
// manually so a delivery stays outstanding until its handle is redeemed.
// Kafka cannot return a fetched message to the partition, so Abandon
// re-publishes the payload and commits the original offset; the
// at-least-once effect is the same.
type KafkaBroker struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	logger  *logrus.Logger

	mu      sync.Mutex
	readers map[string]*kafka.Reader
	pending map[LockHandle]pendingDelivery
}

type pendingDelivery struct {
	queue   string
	message kafka.Message
	reader  *kafka.Reader
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

func NewKafkaBroker(cfg KafkaConfig) *KafkaBroker {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}

	return &KafkaBroker{
		brokers: cfg.Brokers,
		groupID: cfg.GroupID,
		writer:  writer,
		logger:  observability.GetLogger(),
		readers: make(map[string]*kafka.Reader),
		pending: make(map[LockHandle]pendingDelivery),
	}
}

func (b *KafkaBroker) Publish(ctx context.Context, queue, key string, payload []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: queue,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	b.logger.WithFields(logrus.Fields{
		"queue": queue,
		"key":   key,
	}).Debug("Message published")
	return nil
}

// Receive fetches up to maxCount messages from the queue, waiting at most
// wait for the first. Each returned delivery holds a lock handle that must
// be redeemed exactly once.
func (b *KafkaBroker) Receive(ctx context.Context, queue string, maxCount int, wait time.Duration) ([]Delivery, error) {
	reader := b.readerFor(queue)

	deliveries := make([]Delivery, 0, maxCount)
	deadline := time.Now().Add(wait)

	for len(deliveries) < maxCount {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		fetchCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return deliveries, ctx.Err()
			}
			// Deadline reached with a partial batch: not an error.
			break
		}
		deliveries = append(deliveries, b.track(queue, reader, msg))
	}

	return deliveries, nil
}

func (b *KafkaBroker) track(queue string, reader *kafka.Reader, msg kafka.Message) Delivery {
	handle := LockHandle(uuid.NewString())
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	b.mu.Lock()
	b.pending[handle] = pendingDelivery{queue: queue, message: msg, reader: reader}
	b.mu.Unlock()

	return Delivery{Payload: msg.Value, Headers: headers, Handle: handle}
}

// Complete commits the delivery's offset, removing it from the queue.
func (b *KafkaBroker) Complete(ctx context.Context, handle LockHandle) error {
	pd, err := b.redeem(handle)
	if err != nil {
		return err
	}
	if err := pd.reader.CommitMessages(ctx, pd.message); err != nil {
		return fmt.Errorf("failed to complete delivery on %s: %w", pd.queue, err)
	}
	return nil
}

// Abandon returns the delivery to its queue for a later attempt.
func (b *KafkaBroker) Abandon(ctx context.Context, handle LockHandle) error {
	pd, err := b.redeem(handle)
	if err != nil {
		return err
	}

	headers := make(map[string]string, len(pd.message.Headers))
	for _, h := range pd.message.Headers {
		headers[h.Key] = string(h.Value)
	}
	if err := b.Publish(ctx, pd.queue, string(pd.message.Key), pd.message.Value, headers); err != nil {
		return fmt.Errorf("failed to abandon delivery on %s: %w", pd.queue, err)
	}
	if err := pd.reader.CommitMessages(ctx, pd.message); err != nil {
		return fmt.Errorf("failed to commit abandoned delivery on %s: %w", pd.queue, err)
	}
	return nil
}

func (b *KafkaBroker) redeem(handle LockHandle) (pendingDelivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pd, ok := b.pending[handle]
	if !ok {
		return pendingDelivery{}, ErrHandleRedeemed
	}
	delete(b.pending, handle)
	return pd, nil
}

func (b *KafkaBroker) readerFor(queue string) *kafka.Reader {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reader, ok := b.readers[queue]; ok {
		return reader
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.brokers,
		Topic:          queue,
		GroupID:        b.groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
		StartOffset:    kafka.FirstOffset,
	})
	b.readers[queue] = reader
	return reader
}

// Close shuts down the writer and all readers.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if err := b.writer.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close writer: %w", err)
	}
	for queue, reader := range b.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close reader for %s: %w", queue, err)
		}
	}
	b.readers = make(map[string]*kafka.Reader)
	return firstErr
}
