package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event types published over the notifier.
const (
	EventBatchCreated   = "batch.created"
	EventBatchCompleted = "batch.completed"
	EventItemUpdated    = "item.updated"
	EventItemFailed     = "item.failed"
	EventItemDuplicate  = "item.duplicate"
)

// Event is one progress notification for the batch owner.
type Event struct {
	Type    string         `json:"type"`
	OwnerID string         `json:"ownerId"`
	BatchID string         `json:"batchId"`
	ItemID  string         `json:"itemId,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notifier publishes batch progress. Implementations are fire and
// forget; a broken notifier must never fail the pipeline.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier writes events to the structured log. The default when no
// webhook is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("notify",
		zap.String("event", ev.Type),
		zap.String("owner", ev.OwnerID),
		zap.String("batch", ev.BatchID),
		zap.String("item", ev.ItemID),
	)
}

// WebhookNotifier POSTs events as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Log    *zap.Logger
}

// NewWebhookNotifier creates a webhook notifier with a short timeout.
func NewWebhookNotifier(url string, log *zap.Logger) *WebhookNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
		Log:    log.Named("webhook"),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.Log.Warn("marshal event", zap.Error(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.Log.Warn("build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Log.Warn("webhook post failed", zap.String("event", ev.Type), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.Log.Warn("webhook rejected event",
			zap.String("event", ev.Type), zap.Int("status", resp.StatusCode))
	}
}
