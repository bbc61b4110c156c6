package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

const defaultWebhookTimeout = 30 * time.Second

// WebhookNotifier отправляет promotion JSON-запросом POST.
//
// HTTP >= 400 считается ошибкой доставки.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Client  *http.Client
}

// NewWebhookNotifier создаёт WebhookNotifier с таймаутом по умолчанию.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Timeout: defaultWebhookTimeout}
}

// Notify реализует Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, promo domain.Promotion) error {
	if n.URL == "" {
		return fmt.Errorf("%w: webhook url is empty", ErrNotify)
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(promo)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrNotify, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrNotify, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", promo.ID.String())
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotify, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrNotify, resp.StatusCode, truncate(string(respBody), 200))
	}

	return nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
