package notify

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var webhookColors = map[Kind]int{
	KindFill:   0x2ecc71,
	KindAlert:  0xe74c3c,
	KindSystem: 0x3498db,
}

// Webhook posts events as Discord-style embeds. Delivery is asynchronous and
// best effort.
type Webhook struct {
	client *resty.Client
	url    string
	kinds  map[Kind]bool
	logger *zap.Logger
}

// NewWebhook creates a webhook sink forwarding only the given kinds (all kinds when empty).
func NewWebhook(url string, kinds []string, logger *zap.Logger) *Webhook {
	w := &Webhook{
		client: resty.New().SetTimeout(10 * time.Second),
		url:    url,
		kinds:  make(map[Kind]bool, len(kinds)),
		logger: logger.Named("webhook"),
	}
	for _, k := range kinds {
		w.kinds[Kind(k)] = true
	}
	return w
}

func (w *Webhook) Publish(e Event) {
	if w.url == "" || (len(w.kinds) > 0 && !w.kinds[e.Kind]) {
		return
	}
	go func() {
		if err := w.send(e); err != nil {
			w.logger.Warn("Webhook delivery failed", zap.Error(err))
		}
	}()
}

func (w *Webhook) send(e Event) error {
	title := string(e.Kind)
	if e.Symbol != "" {
		title += " " + e.Symbol
	}
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": e.Message,
				"color":       webhookColors[e.Kind],
				"timestamp":   e.Timestamp.Format(time.RFC3339),
			},
		},
	}

	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode())
	}
	return nil
}
