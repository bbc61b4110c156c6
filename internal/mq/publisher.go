package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunPending         MessageType = "run.pending"
	MessageTypeRunCancel          MessageType = "run.cancel"
	MessageTypePromotionRequested MessageType = "promotion.requested"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// RunPayload — payload для run.pending и run.cancel.
type RunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// Publish публикует сообщение и ждёт подтверждения брокера.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		if confirm != nil {
			acked, err := confirm.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("confirm %s/%s: %w", exchange, routingKey, err)
			}
			if !acked {
				return fmt.Errorf("publish to %s/%s: nacked by broker", exchange, routingKey)
			}
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunPending сообщает о новом run, ожидающем выполнения.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunPending(ctx context.Context, runID uuid.UUID) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending,
		NewMessage(MessageTypeRunPending, RunPayload{RunID: runID}))
}

// PublishRunCancel сообщает о запросе отмены run.
// Потребитель: Orchestrator, выполняющий этот run.
func (p *Publisher) PublishRunCancel(ctx context.Context, runID uuid.UUID) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyCancel,
		NewMessage(MessageTypeRunCancel, RunPayload{RunID: runID}))
}

// PublishPromotion публикует намерение продвинуть версию в окружение.
// Routing key — имя окружения.
func (p *Publisher) PublishPromotion(ctx context.Context, promo domain.Promotion) error {
	msg := NewMessage(MessageTypePromotionRequested, promo)
	msg.ID = promo.ID.String()
	return p.Publish(ctx, ExchangePromotions, PromotionRoutingKey(promo.Environment), msg)
}
