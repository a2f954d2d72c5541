package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockBroker is an in-memory Broker implementation for testing.
type MockBroker struct {
	mu        sync.Mutex
	queues    map[string][]Delivery
	pending   map[LockHandle]pendingMock
	Published []PublishedMessage

	PublishFunc func(ctx context.Context, queue, key string, payload []byte, headers map[string]string) error
}

type pendingMock struct {
	queue    string
	delivery Delivery
}

type PublishedMessage struct {
	Queue   string
	Key     string
	Payload []byte
	Headers map[string]string
}

func NewMockBroker() *MockBroker {
	return &MockBroker{
		queues:  make(map[string][]Delivery),
		pending: make(map[LockHandle]pendingMock),
	}
}

func (m *MockBroker) Publish(ctx context.Context, queue, key string, payload []byte, headers map[string]string) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, queue, key, payload, headers); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Published = append(m.Published, PublishedMessage{
		Queue:   queue,
		Key:     key,
		Payload: payload,
		Headers: headers,
	})
	m.queues[queue] = append(m.queues[queue], Delivery{
		Payload: payload,
		Headers: headers,
		Handle:  LockHandle(uuid.NewString()),
	})
	return nil
}

func (m *MockBroker) Receive(ctx context.Context, queue string, maxCount int, wait time.Duration) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backlog := m.queues[queue]
	if len(backlog) == 0 {
		return nil, nil
	}
	if maxCount > len(backlog) {
		maxCount = len(backlog)
	}

	deliveries := backlog[:maxCount]
	m.queues[queue] = backlog[maxCount:]
	for _, d := range deliveries {
		m.pending[d.Handle] = pendingMock{queue: queue, delivery: d}
	}
	return deliveries, nil
}

func (m *MockBroker) Complete(ctx context.Context, handle LockHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[handle]; !ok {
		return ErrHandleRedeemed
	}
	delete(m.pending, handle)
	return nil
}

func (m *MockBroker) Abandon(ctx context.Context, handle LockHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.pending[handle]
	if !ok {
		return ErrHandleRedeemed
	}
	delete(m.pending, handle)
	pm.delivery.Handle = LockHandle(uuid.NewString())
	m.queues[pm.queue] = append(m.queues[pm.queue], pm.delivery)
	return nil
}

func (m *MockBroker) Close() error { return nil }

// PublishedTo returns the messages published to a queue.
func (m *MockBroker) PublishedTo(queue string) []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PublishedMessage
	for _, p := range m.Published {
		if p.Queue == queue {
			out = append(out, p)
		}
	}
	return out
}

// PendingCount returns the number of unredeemed lock handles.
func (m *MockBroker) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
