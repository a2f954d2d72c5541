package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"adt-bridge/internal/fhir"
	"adt-bridge/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_CompletesOnSuccess(t *testing.T) {
	broker := queue.NewMockBroker()
	require.NoError(t, broker.Publish(context.Background(), "test-queue", "k", []byte("payload"), nil))

	var handled atomic.Int64
	consumer := NewConsumer(broker, ConsumerConfig{
		Queue:   "test-queue",
		Workers: 2,
		Wait:    10 * time.Millisecond,
	}, func(ctx context.Context, d queue.Delivery) error {
		handled.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	consumer.Run(ctx)

	assert.Equal(t, int64(1), handled.Load())
	assert.Equal(t, 0, broker.PendingCount())
}

func TestConsumer_DropsPermanentFailures(t *testing.T) {
	broker := queue.NewMockBroker()
	require.NoError(t, broker.Publish(context.Background(), "test-queue", "k", []byte("bad"), nil))

	var handled atomic.Int64
	consumer := NewConsumer(broker, ConsumerConfig{
		Queue:   "test-queue",
		Workers: 1,
		Wait:    10 * time.Millisecond,
	}, func(ctx context.Context, d queue.Delivery) error {
		handled.Add(1)
		return Permanent(errors.New("unprocessable"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	consumer.Run(ctx)

	// Processed once and dropped, never redelivered.
	assert.Equal(t, int64(1), handled.Load())
	assert.Equal(t, 0, broker.PendingCount())
}

func TestConsumer_AbandonsTransientFailures(t *testing.T) {
	broker := queue.NewMockBroker()
	require.NoError(t, broker.Publish(context.Background(), "test-queue", "k", []byte("payload"), nil))

	var handled atomic.Int64
	consumer := NewConsumer(broker, ConsumerConfig{
		Queue:   "test-queue",
		Workers: 1,
		Wait:    10 * time.Millisecond,
	}, func(ctx context.Context, d queue.Delivery) error {
		handled.Add(1)
		return InfraError("store", errors.New("unavailable"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	consumer.Run(ctx)

	// Abandoned deliveries come back until the context ends.
	assert.Greater(t, handled.Load(), int64(1))
	assert.Equal(t, 0, broker.PendingCount())
}

func TestPermanentErrors(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.False(t, IsPermanent(InfraError("publish", errors.New("down"))))
	assert.True(t, IsPermanent(Permanent(errors.New("bad payload"))))
	assert.True(t, IsPermanent(&fhir.ClassificationError{Reason: "no clinic"}))
	assert.True(t, IsPermanent(fhir.ErrUnsupportedResource))
	assert.Nil(t, Permanent(nil))
}
