package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotwatch/internal/domain/fault"
)

// LogSink writes messages to the log.
type LogSink struct{}

// Name returns the sink name.
func (LogSink) Name() string { return "log" }

// Send logs the message subject.
func (LogSink) Send(ctx context.Context, msg Message) error {
	zlog.Info().
		Str("id", msg.ID).
		Str("kind", msg.Kind).
		Str("user", msg.UserURI).
		Msgf("notification: %s", msg.Subject)
	return nil
}

// WebhookSink posts messages as JSON.
type WebhookSink struct {
	client  *retryablehttp.Client
	url     string
	headers map[string]string
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(client *retryablehttp.Client, url string, headers map[string]string) *WebhookSink {
	return &WebhookSink{client: client, url: url, headers: headers}
}

// Name returns the sink name.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts msg to the webhook URL.
func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fault.StatusError("webhook", resp.StatusCode, string(body))
	}
	return nil
}
