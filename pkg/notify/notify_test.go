package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wattlog/wattlog/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func TestWebhookNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("posts payload", func(t *testing.T) {
		got := make(chan webhookPayload, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var p webhookPayload
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
			got <- p
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		NewWebhookNotifier(server.URL).Notify(ctx, "u1", Notification{Kind: KindGoalWarning, Title: "Goal Warning", Body: "close to target"})

		p := <-got
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, KindGoalWarning, p.Kind)
		assert.Equal(t, "Goal Warning", p.Title)
		assert.Equal(t, "close to target", p.Body)
		assert.False(t, p.SentAt.IsZero())
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		err := NewWebhookNotifier(server.URL).send(ctx, "u1", Notification{Kind: KindHighConsumption})
		assert.ErrorContains(t, err, "status 502")
	})

	t.Run("unreachable does not panic", func(t *testing.T) {
		NewWebhookNotifier("http://127.0.0.1:1").Notify(ctx, "u1", Notification{Kind: KindHighConsumption})
	})
}

func TestMulti(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{}
	m := NewMulti(a, nil, b, LogNotifier{})
	m.Notify(context.Background(), "u1", Notification{Kind: KindGoalWarning, Title: "t"})

	assert.Len(t, a.Sent(), 1)
	assert.Len(t, b.Sent(), 1)
	assert.Equal(t, "u1", a.Sent()[0].UserID)
	assert.Equal(t, 1, a.Count(KindGoalWarning))
	assert.Equal(t, 0, a.Count(KindHighConsumption))

	var nilMulti *Multi
	nilMulti.Notify(context.Background(), "u1", Notification{})
}
