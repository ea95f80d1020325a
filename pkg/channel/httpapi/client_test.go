package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dispatchq/pkg/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope() *channel.Envelope {
	return &channel.Envelope{
		MessageID:   "m-1",
		Recipient:   "alice@example.com",
		Sender:      "no-reply@example.com",
		Subject:     "Reset your password",
		TextBody:    "Use this link",
		MessageType: "password_reset",
	}
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestTransmit_Success(t *testing.T) {
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "m-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"prov-123"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, APIKey: "secret-key", Timeout: time.Second})
	require.NoError(t, err)

	receipt, err := client.Transmit(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "prov-123", receipt.ProviderMessageID)
	assert.Equal(t, ProviderName, receipt.Provider)
	assert.Equal(t, "alice@example.com", got.To)
	assert.Equal(t, "password_reset", got.Tags["message_type"])
}

func TestTransmit_IDFromHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-Id", "hdr-9")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	require.NoError(t, err)

	receipt, err := client.Transmit(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "hdr-9", receipt.ProviderMessageID)
}

func TestTransmit_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client, err := NewClient(Config{Endpoint: server.URL})
			require.NoError(t, err)

			_, err = client.Transmit(context.Background(), testEnvelope())
			require.Error(t, err)
			assert.Equal(t, tt.permanent, channel.IsPermanent(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestTransmit_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(Config{Endpoint: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Transmit(context.Background(), testEnvelope())
	require.Error(t, err)
	assert.True(t, channel.IsTransient(err))
}

func TestTransmit_AcceptedWithoutIDIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL})
	require.NoError(t, err)

	_, err = client.Transmit(context.Background(), testEnvelope())
	assert.True(t, channel.IsTransient(err))
}
