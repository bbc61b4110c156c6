// Package notify доставляет намерения продвинуть версию в окружение.
//
// Реализации Notifier:
//   - MQNotifier      — RabbitMQ, exchange conveyor.promotions
//   - WebhookNotifier — HTTP POST
//   - ValuesNotifier  — правка values-{env}.yaml и git commit/push
//   - LogNotifier     — только лог
//   - Recorder        — в памяти (тесты)
//   - Multi           — рассылка нескольким получателям
package notify
