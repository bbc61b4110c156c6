// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением и publisher confirms
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.pending          — новый run ожидает выполнения
//   - run.cancel           — оператор запросил отмену run
//   - promotion.requested  — намерение продвинуть версию в окружение
//
// Exchanges:
//   - conveyor.runs        — события runs
//   - conveyor.promotions  — promotions, routing key = окружение
//   - conveyor.dlq         — dead letter queue
package mq
