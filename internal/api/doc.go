// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (request id, logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines
//   - run_handler.go      — обработчики для /runs
//   - gate_handler.go     — обработчики для /runs/{id}/gates
//   - schedule_handler.go — обработчики для /schedules
//
// API предоставляет REST endpoints для управления pipelines, runs,
// approval gates и schedules.
package api
