package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/screenhub/internal/model"
)

func testAlert() model.AlertRecord {
	v := 97.5
	return model.AlertRecord{
		ID:          "a1",
		CheckName:   "heap_usage",
		Level:       model.AlertCritical,
		Message:     "heap above critical threshold",
		Value:       &v,
		TriggeredAt: time.Now().UTC(),
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		URL:     srv.URL,
		Timeout: time.Second,
		Headers: map[string]string{"X-Token": "secret"},
	}, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, "screenhub", got.Service)
	assert.Equal(t, "heap_usage", got.Alert.CheckName)
	assert.Equal(t, model.AlertCritical, got.Alert.Level)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		URL:        srv.URL,
		RetryCount: 3,
		RetryWait:  5 * time.Millisecond,
	}, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookNotifier_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, zap.NewNop())
	assert.Error(t, n.Notify(context.Background(), testAlert()))
}

type countingNotifier struct {
	calls int32
}

func (c *countingNotifier) Notify(ctx context.Context, alert model.AlertRecord) error {
	atomic.AddInt32(&c.calls, 1)
	return nil
}

func TestRateLimited(t *testing.T) {
	next := &countingNotifier{}
	n := NewRateLimited(next, 0.001, 2, zap.NewNop())

	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
	assert.ErrorIs(t, n.Notify(context.Background(), testAlert()), ErrRateLimited)
	assert.Equal(t, int32(2), atomic.LoadInt32(&next.calls))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(zap.NewNop()).Notify(context.Background(), testAlert()))
}
