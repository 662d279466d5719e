package notify

import (
	"context"

	"testbot/pkg/models"
)

// WebhookNotifier posts the complete run metadata as JSON, for consumers
// that format messages themselves.
type WebhookNotifier struct {
	url    string
	poster *poster
}

type webhookPayload struct {
	Title  string           `json:"title"`
	Status models.RunStatus `json:"status"`
	models.RunMetadata
}

func (w *WebhookNotifier) Name() string { return TypeWebhook }

func (w *WebhookNotifier) Notify(ctx context.Context, meta models.RunMetadata) error {
	return w.poster.postJSON(ctx, w.url, webhookPayload{
		Title:       Title(meta),
		Status:      meta.Status(),
		RunMetadata: meta,
	}, nil)
}
