package digest

import (
	"context"
	"testing"
	"time"

	"adt-bridge/internal/hl7"
	"adt-bridge/internal/store"
	"adt-bridge/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures sent digests.
type recordingNotifier struct {
	sent       []*Digest
	recipients [][]string
	err        error
}

func (n *recordingNotifier) SendSummary(ctx context.Context, d *Digest, recipients []string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, d)
	n.recipients = append(n.recipients, recipients)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC)
}

func TestGenerate_NothingToReport(t *testing.T) {
	memStore := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	generator := NewGenerator(memStore, memStore, notifier, []string{"ops@example.org"})
	generator.now = fixedClock

	digest, err := generator.Generate(context.Background())
	require.NoError(t, err)

	assert.False(t, digest.Sent)
	assert.Zero(t, digest.ErrorCount)
	assert.Zero(t, digest.OutstandingCount)
	assert.Empty(t, notifier.sent)
}

func TestGenerate_SplitsErrorsByKind(t *testing.T) {
	memStore := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	generator := NewGenerator(memStore, memStore, notifier, []string{"ops@example.org"})
	generator.now = fixedClock

	recent := fixedClock().Add(-2 * time.Hour)
	attempts := []models.DeliveryAttempt{
		{MessageID: "msg-1", AttemptedAt: recent, AckKind: hl7.AckConnectError, ErrorDetail: "refused"},
		{MessageID: "msg-2", AttemptedAt: recent, AckKind: hl7.AckRejectError, ErrorDetail: "HTTP error: 503"},
		{MessageID: "msg-3", AttemptedAt: recent, AckKind: hl7.AckError, ErrorDetail: "Invalid field"},
		{MessageID: "msg-4", AttemptedAt: recent, AckKind: hl7.AckAccept, Success: true},
	}
	for _, attempt := range attempts {
		require.NoError(t, memStore.Record(context.Background(), attempt))
	}

	digest, err := generator.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, digest.ErrorCount)
	assert.Len(t, digest.ConnectivityErrors, 2)
	assert.Len(t, digest.NackResponses, 1)
	assert.Equal(t, "msg-3", digest.NackResponses[0].MessageID)
	assert.True(t, digest.Sent)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, []string{"ops@example.org"}, notifier.recipients[0])
}

func TestGenerate_IgnoresOldFailures(t *testing.T) {
	memStore := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	generator := NewGenerator(memStore, memStore, notifier, nil)
	generator.now = fixedClock

	require.NoError(t, memStore.Record(context.Background(), models.DeliveryAttempt{
		MessageID:   "msg-old",
		AttemptedAt: fixedClock().Add(-48 * time.Hour),
		AckKind:     hl7.AckConnectError,
	}))

	digest, err := generator.Generate(context.Background())
	require.NoError(t, err)

	assert.Zero(t, digest.ErrorCount)
	assert.False(t, digest.Sent)
}

func TestGenerate_ReportsOutstandingMessages(t *testing.T) {
	memStore := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	generator := NewGenerator(memStore, memStore, notifier, []string{"ops@example.org"})
	generator.now = fixedClock

	stale := &store.MessageRecord{
		ID:        "msg-stale",
		ClinicID:  "clinic-9",
		PatientID: "patient-123",
		Status:    models.StatusPending,
		CreatedAt: fixedClock().Add(-30 * time.Hour),
	}
	fresh := &store.MessageRecord{
		ID:        "msg-fresh",
		Status:    models.StatusPending,
		CreatedAt: fixedClock().Add(-1 * time.Hour),
	}
	done := &store.MessageRecord{
		ID:        "msg-done",
		Status:    models.StatusSent,
		CreatedAt: fixedClock().Add(-30 * time.Hour),
	}
	for _, record := range []*store.MessageRecord{stale, fresh, done} {
		require.NoError(t, memStore.Save(context.Background(), record))
	}

	digest, err := generator.Generate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, digest.OutstandingCount)
	assert.Equal(t, "msg-stale", digest.OutstandingMessages[0].MessageID)
	assert.Equal(t, "clinic-9", digest.OutstandingMessages[0].ClinicID)
	assert.True(t, digest.Sent)
}

func TestGenerate_NotifierFailure(t *testing.T) {
	memStore := store.NewMemoryStore()
	notifier := &recordingNotifier{err: assert.AnError}
	generator := NewGenerator(memStore, memStore, notifier, []string{"ops@example.org"})
	generator.now = fixedClock

	require.NoError(t, memStore.Record(context.Background(), models.DeliveryAttempt{
		MessageID:   "msg-1",
		AttemptedAt: fixedClock().Add(-time.Hour),
		AckKind:     hl7.AckConnectError,
	}))

	digest, err := generator.Generate(context.Background())
	require.Error(t, err)
	assert.False(t, digest.Sent)
}
