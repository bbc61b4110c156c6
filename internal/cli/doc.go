// Package cli реализует инструмент командной строки Conveyor.
//
// # Обзор
//
// CLI — клиентская утилита для Conveyor API: регистрация pipelines,
// запуск и отмена runs, решения по approval gates, schedules.
// Команда exec выполняет манифест локально, без API и базы данных.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Conveyor API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	pipelines, err := client.ListPipelines()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: conveyor run list --json | jq .
//
// ## Exec
//
// Локальный run: хранилища в памяти, gates в файлах каталога --gate-dir.
// Пока run ждёт решения, его можно принять из другого терминала:
//
//	conveyor gate decide --dir /tmp/conveyor/gates RUN_ID approve-prod approved
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - pipeline: list, register, show, versions, delete
//   - run: list, start, show, cancel, tasks, log
//   - gate: list, show, decide
//   - schedule: list, create, show, update, delete, enable, disable
//   - exec
//
// Каждая группа создаётся через фабричную функцию (NewPipelineCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
