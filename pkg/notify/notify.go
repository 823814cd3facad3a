// Package notify delivers user notifications. Delivery is fire-and-forget:
// failures are logged and never reported back to the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/common"
	"github.com/wattlog/wattlog/pkg/log"
)

// Kind classifies a notification.
type Kind string

const (
	KindGoalWarning     Kind = "goal_warning"
	KindHighConsumption Kind = "high_consumption"
)

// Notification is a single message to a user.
type Notification struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier sends notifications to users.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification)
}

// Configured returns a Notifier that logs every notification and, when
// --notify-webhook-url is set, also posts it to the webhook.
func Configured() Notifier {
	webhookURL := lflag.String("notify-webhook-url", "", "URL notifications are POSTed to as JSON (optional)")

	m := &Multi{}

	lflag.Do(func() {
		m.notifiers = append(m.notifiers, LogNotifier{})
		if *webhookURL != "" {
			m.notifiers = append(m.notifiers, NewWebhookNotifier(*webhookURL))
		}
	})

	return m
}

// LogNotifier writes notifications to the context logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, userID string, n Notification) {
	log.Ctx(ctx).InfoContext(
		ctx,
		"notification",
		slog.String("userID", userID),
		slog.String("kind", string(n.Kind)),
		slog.String("title", n.Title),
		slog.String("body", n.Body),
	)
}

// WebhookNotifier posts notifications as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	UserID string    `json:"userId"`
	Kind   Kind      `json:"kind"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
}

// NewWebhookNotifier constructs a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: common.HTTPClient(10 * time.Second),
	}
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, userID string, n Notification) {
	if err := w.send(ctx, userID, n); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to send webhook notification", slog.String("userID", userID), slog.String("kind", string(n.Kind)), slog.Any("error", err))
	}
}

func (w *WebhookNotifier) send(ctx context.Context, userID string, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		UserID: userID,
		Kind:   n.Kind,
		Title:  n.Title,
		Body:   n.Body,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Multi dispatches notifications to multiple notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti constructs a Multi.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Notify forwards the notification to all notifiers.
func (m *Multi) Notify(ctx context.Context, userID string, n Notification) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, userID, n)
		}
	}
}

// Sent is a notification captured by a Recorder.
type Sent struct {
	UserID string
	Notification
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

// Notify implements Notifier.
func (r *Recorder) Notify(ctx context.Context, userID string, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{UserID: userID, Notification: n})
}

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, s := range r.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}
