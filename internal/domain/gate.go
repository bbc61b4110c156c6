package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GateKey — идентификатор approval gate.
//
// Gate принадлежит конкретному run, поэтому одновременные runs
// одного pipeline не видят решений друг друга.
type GateKey struct {
	RunID uuid.UUID `json:"run_id"`
	Name  string    `json:"name"`
}

func (k GateKey) String() string {
	return fmt.Sprintf("%s/%s", k.RunID, k.Name)
}

// Gate — точка ручного подтверждения.
//
// Создаётся (или сбрасывается в PENDING) при старте approval-задачи,
// закрывается после завершения run. Решения по закрытому gate не принимаются.
type Gate struct {
	// RunID — run, которому принадлежит gate.
	RunID uuid.UUID `json:"run_id"`

	// Name — имя approval-задачи.
	Name string `json:"name"`

	// Status — текущее решение.
	Status GateStatus `json:"status"`

	// Live — gate ожидает решения (run ещё выполняется).
	Live bool `json:"live"`

	// CreatedAt — время последнего сброса.
	CreatedAt time.Time `json:"created_at"`

	// Deadline — момент, после которого ожидание считается истёкшим.
	Deadline time.Time `json:"deadline"`

	// DecidedAt — время решения.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// DecidedBy — кто принял решение.
	DecidedBy string `json:"decided_by,omitempty"`
}

// Key возвращает идентификатор gate.
func (g *Gate) Key() GateKey {
	return GateKey{RunID: g.RunID, Name: g.Name}
}

// Reset сбрасывает gate в PENDING и стирает предыдущее решение.
func (g *Gate) Reset(timeout time.Duration, now time.Time) {
	g.Status = GateStatusPending
	g.Live = true
	g.CreatedAt = now
	g.Deadline = now.Add(timeout)
	g.DecidedAt = nil
	g.DecidedBy = ""
}

// Decide применяет решение. Повтор того же решения ничего не меняет.
// Возвращает true, если статус изменился.
func (g *Gate) Decide(d Decision, actor string, now time.Time) bool {
	status := d.Status()
	if g.Status == status {
		return false
	}
	g.Status = status
	g.DecidedAt = &now
	g.DecidedBy = actor
	return true
}

// Close снимает gate с ожидания.
func (g *Gate) Close() {
	g.Live = false
}

// Decision — решение оператора.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision разбирает решение без учёта регистра.
// Неизвестные значения возвращают ok=false.
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved":
		return DecisionApproved, true
	case "rejected":
		return DecisionRejected, true
	default:
		return "", false
	}
}

// Status возвращает статус gate, соответствующий решению.
func (d Decision) Status() GateStatus {
	if d == DecisionApproved {
		return GateStatusApproved
	}
	return GateStatusRejected
}
