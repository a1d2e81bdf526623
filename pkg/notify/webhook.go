// Package notify posts operator notifications to a JSON webhook
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RequestTimeout for webhook requests
const RequestTimeout = 10 * time.Second

// Message is the JSON body posted to the webhook.
type Message struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Severity string         `json:"severity,omitempty"` // "info", "warning", "error"
	Data     map[string]any `json:"data,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Webhook sends messages to a single URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a notifier for url.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: RequestTimeout,
		},
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Send posts msg. Any non-2xx status is an error.
func (w *Webhook) Send(ctx context.Context, msg *Message) error {
	if msg == nil || msg.Body == "" {
		return errors.New("notification body is required")
	}
	if msg.Severity == "" {
		msg.Severity = "info"
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		w.logger.Error("notification rejected", slog.Int("status", resp.StatusCode), slog.String("body", string(body)))
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	w.logger.Info("notification sent", slog.String("title", msg.Title))
	return nil
}
