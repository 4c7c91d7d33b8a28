package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"contract-mesh/pkg/model"
)

// Alerter is notified once per exhausted recovery.
type Alerter interface {
	Alert(ctx context.Context, node model.Node, attempts int)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(ctx context.Context, node model.Node, attempts int)

func (f AlertFunc) Alert(ctx context.Context, node model.Node, attempts int) { f(ctx, node, attempts) }

// LogAlerter writes alerts to the log.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log.With().Str("component", "alert").Logger()}
}

func (a *LogAlerter) Alert(_ context.Context, node model.Node, attempts int) {
	a.log.Error().
		Str("node_id", node.ID).
		Str("address", node.Address).
		Int("attempts", attempts).
		Msg("node failed all recovery attempts and is now inactive")
}

// AlertPayload is posted by WebhookAlerter.
type AlertPayload struct {
	NodeID    string    `json:"nodeId"`
	Address   string    `json:"address"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookAlerter posts a JSON alert to a URL and falls back to the log on failure.
type WebhookAlerter struct {
	url      string
	client   *http.Client
	fallback *LogAlerter
}

func NewWebhookAlerter(url string, client *http.Client, log zerolog.Logger) *WebhookAlerter {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookAlerter{url: url, client: client, fallback: NewLogAlerter(log)}
}

func (a *WebhookAlerter) Alert(ctx context.Context, node model.Node, attempts int) {
	if err := a.post(ctx, AlertPayload{
		NodeID:    node.ID,
		Address:   node.Address,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		a.fallback.log.Warn().Err(err).Str("url", a.url).Msg("alert webhook failed")
		a.fallback.Alert(ctx, node, attempts)
	}
}

func (a *WebhookAlerter) post(ctx context.Context, payload AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
