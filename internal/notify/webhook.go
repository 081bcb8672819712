package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dossierline/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts signals to the configured endpoints. Hooks with an event filter that
// does not include quote.ready are skipped. A failing hook does not stop the others.
type Webhook struct {
	Hooks  []config.WebhookConfig
	Client *http.Client
}

type webhookBody struct {
	Type    string     `json:"type"`
	Payload QuoteReady `json:"payload"`
}

func (w Webhook) QuoteReady(ctx context.Context, sig QuoteReady) error {
	data, err := json.Marshal(webhookBody{Type: EventQuoteReady, Payload: sig})
	if err != nil {
		return err
	}
	var errs []error
	for _, hook := range w.Hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" || !newEventFilter(hook.Events).match(EventQuoteReady) {
			continue
		}
		if err := w.post(ctx, hook, sig.LeadID, data); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w Webhook) post(ctx context.Context, hook config.WebhookConfig, leadID string, data []byte) error {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dossierline-Event", EventQuoteReady)
	req.Header.Set("X-Dossierline-Lead", leadID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Dossierline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
