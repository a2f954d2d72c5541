// Package queue provides the durable at-least-once queue fabric the
// pipeline runs on, backed by Kafka topics with manual offset commits.
package queue

import (
	"context"
	"errors"
	"time"
)

// LockHandle is the opaque token granted per received delivery. Exactly one
// of Complete or Abandon must be invoked per handle.
type LockHandle string

// Delivery is one received message together with the handle that owns it.
type Delivery struct {
	Payload []byte
	Headers map[string]string
	Handle  LockHandle
}

// ErrHandleRedeemed is returned when a lock handle is completed or
// abandoned more than once, or after its consumer released it.
var ErrHandleRedeemed = errors.New("lock handle already redeemed")

// Broker is the queue fabric contract the pipeline consumes.
//
// Publish appends a payload to the named queue. Receive pulls up to maxCount
// deliveries, waiting at most wait for the first one. Complete permanently
// removes a delivery; Abandon returns it to the queue for a later attempt.
type Broker interface {
	Publish(ctx context.Context, queue, key string, payload []byte, headers map[string]string) error
	Receive(ctx context.Context, queue string, maxCount int, wait time.Duration) ([]Delivery, error)
	Complete(ctx context.Context, handle LockHandle) error
	Abandon(ctx context.Context, handle LockHandle) error
	Close() error
}
