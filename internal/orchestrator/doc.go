// Package orchestrator управляет выполнением runs.
//
// Coordinator ведёт один run через tiers графа задач: запускает задачи
// tier параллельно, ждёт решений по approval gates, при ошибке пропускает
// зависимые задачи, при отмене переводит run в CANCELLED.
//
// Orchestrator отвечает за:
//   - Получение новых runs и запросов отмены из RabbitMQ
//   - Polling pending runs как fallback
//   - Ограничение числа одновременно выполняемых runs
//   - Завершение runs, прерванных рестартом процесса
package orchestrator
