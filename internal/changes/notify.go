package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notification is the payload sent to external sinks after change records
// are committed.
type Notification struct {
	ListingID string         `json:"listingId"`
	Changes   []ChangedValue `json:"changes"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChangedValue is one entry of Notification.Changes.
type ChangedValue struct {
	Field    string  `json:"field"`
	OldValue *string `json:"oldValue"`
	NewValue *string `json:"newValue"`
}

// Notifier delivers a notification. Delivery is best effort.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// WebhookNotifier POSTs notifications as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a webhook sink. A zero timeout defaults to ten
// seconds.
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}, nil
}

// Name identifies the sink in logs and metrics.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify sends n and treats any non-2xx answer as a failure.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

// Publisher publishes a JSON payload with message attributes.
type Publisher interface {
	Publish(ctx context.Context, attributes map[string]string, payload any) (string, error)
}

// TopicNotifier forwards notifications to a message topic.
type TopicNotifier struct {
	publisher Publisher
}

// NewTopicNotifier wraps a publisher.
func NewTopicNotifier(p Publisher) *TopicNotifier {
	return &TopicNotifier{publisher: p}
}

// Name identifies the sink in logs and metrics.
func (t *TopicNotifier) Name() string { return "pubsub" }

// Notify publishes n with the listing id as an attribute.
func (t *TopicNotifier) Notify(ctx context.Context, n Notification) error {
	if _, err := t.publisher.Publish(ctx, map[string]string{"listing_id": n.ListingID}, n); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
