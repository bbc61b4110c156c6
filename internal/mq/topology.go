package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns       Exchange = "conveyor.runs"
	ExchangePromotions Exchange = "conveyor.promotions"
	ExchangeDLQ        Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsPending Queue = "runs.pending"
	QueueRunsCancel  Queue = "runs.cancel"
	QueuePromotions  Queue = "promotions.requested"
	QueueDLQRuns     Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyPending RoutingKey = "pending"
	RoutingKeyCancel  RoutingKey = "cancel"
	RoutingKeyDLQRuns RoutingKey = "runs"

	// RoutingKeyAllEnvironments — подписка на promotions всех окружений.
	RoutingKeyAllEnvironments RoutingKey = "#"
)

// PromotionRoutingKey — ключ маршрутизации promotion: имя окружения.
// GitOps-контроллер окружения подписывается только на свой ключ.
func PromotionRoutingKey(environment string) RoutingKey {
	return RoutingKey(environment)
}

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}

	exchanges := []exchangeDecl{
		{ExchangeRuns, amqp.ExchangeDirect},
		{ExchangePromotions, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	queues := []queueDecl{
		// runs.pending — с DLQ: сообщение о битом run не зацикливается
		{QueueRunsPending, dlqArgs},
		{QueueRunsCancel, nil},
		// promotions.requested — журнал всех promotions
		{QueuePromotions, nil},
		{QueueDLQRuns, nil},
	}

	bindings := []bindingDecl{
		{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
		{QueueRunsCancel, RoutingKeyCancel, ExchangeRuns},
		{QueuePromotions, RoutingKeyAllEnvironments, ExchangePromotions},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}

	return exchanges, queues, bindings
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.runs (direct)
    ├── runs.pending [routing: pending]   Consumer: Orchestrator, DLQ: dlq.runs
    └── runs.cancel  [routing: cancel]    Consumer: Orchestrator

    conveyor.promotions (topic, routing: <environment>)
    └── promotions.requested [routing: #] Audit / GitOps controllers

    conveyor.dlq (direct)
    └── dlq.runs [routing: runs]          Manual processing
  `
}
