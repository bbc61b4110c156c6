// Package telemetry — логирование и метрики Conveyor.
//
// SetupLogger настраивает slog по LOG_LEVEL и LOG_FORMAT и помечает записи
// именем сервиса; NewLogger делает то же для произвольного writer. Логгер запроса
// передаётся через контекст (WithLogger, FromContext), атрибуты run_id,
// task и pipeline добавляются хелперами WithRunID, WithTask, WithPipeline.
//
// Metrics регистрирует счётчики runs, задач, promotions и гистограммы
// длительности задач и ожидания gates. Сервисы отдают их на /metrics.
package telemetry
