package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/spotwatch/internal/domain/fault"
	"github.com/osa030/spotwatch/internal/infra/httpx"
)

func TestWebhookSink_Send(t *testing.T) {
	received := make(chan Message, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Webhook-Token"))

		var msg Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := httpx.NewRetryable(httpx.Options{Timeout: time.Second})
	sink := NewWebhookSink(client, server.URL, map[string]string{"X-Webhook-Token": "secret"})

	err := sink.Send(context.Background(), Message{ID: "id-1", Kind: KindActive, Subject: "hello"})
	require.NoError(t, err)

	msg := <-received
	assert.Equal(t, "id-1", msg.ID)
	assert.Equal(t, "hello", msg.Subject)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := httpx.NewRetryable(httpx.Options{Timeout: time.Second})
	sink := NewWebhookSink(client, server.URL, nil)

	err := sink.Send(context.Background(), Message{Subject: "hello"})
	require.Error(t, err)
	assert.Equal(t, fault.ClassServer, fault.Classify(err))
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Send(context.Background(), Message{Subject: "hello"}))
	assert.Equal(t, "log", LogSink{}.Name())
}
