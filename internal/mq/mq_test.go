package mq

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParsePayload_RoundTrip(t *testing.T) {
	runID := uuid.New()
	body, err := json.Marshal(NewMessage(MessageTypeRunCancel, RunPayload{RunID: runID}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	payload, err := ParsePayload[RunPayload](&msg)
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if payload.RunID != runID {
		t.Errorf("expected run_id %s, got %s", runID, payload.RunID)
	}
	if msg.Type != MessageTypeRunCancel {
		t.Errorf("expected type %s, got %s", MessageTypeRunCancel, msg.Type)
	}
}

func TestParsePayload_BadPayloadIsPoison(t *testing.T) {
	msg := &Message{Payload: map[string]any{"run_id": "not-a-uuid"}}

	_, err := ParsePayload[RunPayload](msg)
	if !errors.Is(err, ErrPoison) {
		t.Errorf("expected ErrPoison, got %v", err)
	}
}

func TestTopology_EveryQueueBound(t *testing.T) {
	exchanges, queues, bindings := topology()

	declared := make(map[Exchange]bool)
	for _, ex := range exchanges {
		declared[ex.name] = true
	}

	bound := make(map[Queue]bool)
	for _, b := range bindings {
		if !declared[b.exchange] {
			t.Errorf("binding for %s uses undeclared exchange %s", b.queue, b.exchange)
		}
		bound[b.queue] = true
	}

	for _, q := range queues {
		if !bound[q.name] {
			t.Errorf("queue %s has no binding", q.name)
		}
	}
}

func TestPromotionRoutingKey(t *testing.T) {
	if got := PromotionRoutingKey("prod"); got != "prod" {
		t.Errorf("expected prod, got %s", got)
	}
}
