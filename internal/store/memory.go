package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"adt-bridge/pkg/models"
)

// MemoryStore is an in-memory MessageStore and AttemptStore, used by tests
// and broker-less development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*MessageRecord
	attempts []models.DeliveryAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*MessageRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, record *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	s.records[clone.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetComposed(ctx context.Context, id, hl7 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	record.HL7Payload = hl7
	record.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) IncrementResend(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	record.ResendCount++
	record.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *MemoryStore) Query(ctx context.Context, filter QueryFilter) ([]*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*MessageRecord
	for _, record := range s.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.ClinicID != "" && record.ClinicID != filter.ClinicID {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !record.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if !filter.CreatedAfter.IsZero() && !record.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		clone := *record
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context, status models.MessageStatus, olderThan time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, record := range s.records {
		if record.Status != status {
			continue
		}
		if !olderThan.IsZero() && !record.CreatedAt.Before(olderThan) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) Record(ctx context.Context, attempt models.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *MemoryStore) Failures(ctx context.Context, since time.Time) ([]models.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.DeliveryAttempt
	for _, attempt := range s.attempts {
		if attempt.Success || attempt.AttemptedAt.Before(since) {
			continue
		}
		out = append(out, attempt)
	}
	return out, nil
}
