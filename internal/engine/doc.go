// Package engine содержит модель исполнения pipeline.
//
// Включает:
//   - validate.go — валидация pipeline перед регистрацией
//   - dag.go      — построение DAG и разбиение задач на tiers
//   - template.go — рендеринг команд ({{ .Params.version }})
//   - manifest.go — чтение YAML-манифестов pipeline
//
// Engine отвечает за понимание структуры pipeline и определение
// порядка выполнения задач на основе их зависимостей.
package engine
