package main

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/notify"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// --- Promotion Notifier Tests ---

func TestPromotionNotifier_MQWithoutBrokerFails(t *testing.T) {
	cfg := &config.Config{PromotionMode: config.PromotionModeMQ}

	n, err := promotionNotifier(cfg, nil, telemetry.Discard())
	if !errors.Is(err, mq.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if n != nil {
		t.Errorf("expected no notifier, got %T", n)
	}
}

func TestPromotionNotifier_Modes(t *testing.T) {
	publisher := mq.NewPublisher(nil, telemetry.Discard())

	tests := []struct {
		mode string
		want string
	}{
		{config.PromotionModeMQ, "mq"},
		{config.PromotionModeWebhook, "webhook"},
		{config.PromotionModeValues, "values"},
		{config.PromotionModeLog, "log"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := &config.Config{
				PromotionMode:       tt.mode,
				PromotionWebhookURL: "http://deploy.local/hook",
				ValuesDir:           t.TempDir(),
			}
			n, err := promotionNotifier(cfg, publisher, telemetry.Discard())
			if err != nil {
				t.Fatalf("promotionNotifier failed: %v", err)
			}
			if got := notifierKind(n); got != tt.want {
				t.Errorf("expected %s notifier, got %s", tt.want, got)
			}
		})
	}
}

func notifierKind(n notify.Notifier) string {
	switch n.(type) {
	case *notify.MQNotifier:
		return "mq"
	case *notify.WebhookNotifier:
		return "webhook"
	case *notify.ValuesNotifier:
		return "values"
	case notify.LogNotifier:
		return "log"
	default:
		return "unknown"
	}
}
