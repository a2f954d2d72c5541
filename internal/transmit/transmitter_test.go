package transmit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"adt-bridge/internal/hl7"
	"adt-bridge/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "MSH|^~\\&|FHIR_SYSTEM|CLINIC_ID|PCR|Ontario|20240315103000||ADT^A28|control-1|P|2.4\nPID|1|patient-123"

func newTestTransmitter(url string, metrics observability.MetricsCollector) *Transmitter {
	return NewTransmitter(Config{EndpointURL: url, Metrics: metrics})
}

func TestTransmit_Accepted(t *testing.T) {
	var receivedBody string
	var receivedMessageID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		receivedMessageID = r.Header.Get("MessageId")
		assert.Equal(t, "application/hl7-v2", r.Header.Get("Content-Type"))
		w.Write([]byte("MSA|AA|control-1"))
	}))
	defer server.Close()

	metrics := observability.NewInMemoryMetrics()
	transmitter := newTestTransmitter(server.URL, metrics)

	attempt := transmitter.Transmit(context.Background(), "msg-1", testMessage)

	assert.True(t, attempt.Success)
	assert.Equal(t, hl7.AckAccept, attempt.AckKind)
	assert.Empty(t, attempt.ErrorDetail)
	assert.Equal(t, testMessage, receivedBody)
	assert.Equal(t, "msg-1", receivedMessageID)
	assert.Equal(t, int64(1), metrics.GetTransmitted())
	assert.GreaterOrEqual(t, attempt.ResponseTimeMs, int64(0))
}

func TestTransmit_ApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("MSA|AE|control-1\nERR|||Invalid field"))
	}))
	defer server.Close()

	metrics := observability.NewInMemoryMetrics()
	transmitter := newTestTransmitter(server.URL, metrics)

	attempt := transmitter.Transmit(context.Background(), "msg-2", testMessage)

	assert.False(t, attempt.Success)
	assert.Equal(t, hl7.AckError, attempt.AckKind)
	assert.Equal(t, "Invalid field", attempt.ErrorDetail)
	assert.Equal(t, int64(1), metrics.GetTransmitFailed())
}

func TestTransmit_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transmitter := newTestTransmitter(server.URL, nil)

	attempt := transmitter.Transmit(context.Background(), "msg-3", testMessage)

	assert.False(t, attempt.Success)
	assert.Equal(t, hl7.AckRejectError, attempt.AckKind)
	assert.Contains(t, attempt.ErrorDetail, "HTTP error: 503")
}

func TestTransmit_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	metrics := observability.NewInMemoryMetrics()
	transmitter := newTestTransmitter(server.URL, metrics)

	attempt := transmitter.Transmit(context.Background(), "msg-4", testMessage)

	assert.False(t, attempt.Success)
	assert.Equal(t, hl7.AckConnectError, attempt.AckKind)
	assert.Contains(t, attempt.ErrorDetail, "connection error")
	assert.Equal(t, int64(1), metrics.GetTransmitFailed())
}

func TestTransmit_NoAckInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	transmitter := newTestTransmitter(server.URL, nil)

	attempt := transmitter.Transmit(context.Background(), "msg-5", testMessage)

	assert.False(t, attempt.Success)
	assert.Equal(t, hl7.AckUnknown, attempt.AckKind)
}

func TestTransmit_AttemptIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("MSA|AA|control-1"))
	}))
	defer server.Close()

	transmitter := newTestTransmitter(server.URL, nil)

	attempt := transmitter.Transmit(context.Background(), "msg-6", testMessage)

	require.Equal(t, "msg-6", attempt.MessageID)
	assert.False(t, attempt.AttemptedAt.IsZero())
}
