// Package gate реализует approval gate — точку ручного подтверждения.
//
// Gate принадлежит конкретному run и имени approval-задачи. При старте
// задачи gate сбрасывается в PENDING, стирая любое прежнее решение,
// после чего Await опрашивает его до решения или таймаута.
//
// Хранилища:
//   - MemoryStore — в памяти (тесты, локальный exec)
//   - FileStore   — YAML-файлы, решения можно вписать руками
//   - repo.GateRepo — PostgreSQL с LISTEN/NOTIFY
//
// Словарь решений: approved | rejected (без учёта регистра).
package gate
